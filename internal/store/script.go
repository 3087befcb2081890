package store

// Lua scripts beyond the push-if-absent primitive in redis.go. Grounded on
// objects.py's registered script for draining links:inter:<id> lists: a
// resumable cursor that survives a crash mid-drain without losing or
// duplicating a link.
//
// cursorAdvanceScript moves one element from the work list (KEYS[1]) to an
// in-process marker list (KEYS[2]) and returns it. If the work list is
// empty but the marker list still holds an element from a prior run that
// crashed before finishing it, that element is returned again instead,
// giving at-least-once resumable delivery.
const cursorAdvanceScript = `
local v = redis.call("RPOPLPUSH", KEYS[1], KEYS[2])
if v then
  return v
end
local leftover = redis.call("LRANGE", KEYS[2], -1, -1)
if leftover[1] then
  return leftover[1]
end
return false
`

// cursorAckScript removes the element the caller just finished processing
// from the in-process marker list, completing one resumable iteration step.
const cursorAckScript = `
return redis.call("LREM", KEYS[1], -1, ARGV[1])
`

// Package store defines the abstract transactional key/value/set/list
// store that every other package in popmapper is built against. The only
// production implementation is RedisStore (redis.go), but the interface
// exists so components never import go-redis directly.
package store

import (
	"context"
	"errors"
)

// ErrWatchConflict is returned when an optimistic transaction's watched
// keys changed between Watch and Exec. Callers retry the affected unit of
// work from the top.
var ErrWatchConflict = errors.New("store: watch conflict, retry")

// ErrNotExist is returned by operations that require a key to already
// exist (e.g. following a union-find pointer) when it does not.
var ErrNotExist = errors.New("store: key does not exist")

// Store is the backend-agnostic contract described in spec.md §4.1 and §6.
// All methods block on synchronous I/O; callers are expected to pass a
// context with an appropriate deadline for the surrounding stage.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)

	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)
	SMove(ctx context.Context, src, dst, member string) error
	SPop(ctx context.Context, key string) (string, bool, error)
	SUnionStore(ctx context.Context, dst string, keys ...string) error

	LPush(ctx context.Context, key string, values ...string) error
	RPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, bool, error)
	RPopLPush(ctx context.Context, src, dst string) (string, bool, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Pipeline returns a batch that is sent to the backend on Exec. Writes
	// queued on a pipeline obtained from Watch are only atomic as a group;
	// one obtained directly from Pipeline is merely batched for
	// throughput, per spec.md §4.1.
	Pipeline() Pipeline

	// Watch runs fn with a transactional Pipeline whose Exec fails with
	// ErrWatchConflict if any of keys changed since Watch was called. fn
	// must not call Exec itself; Watch commits on successful return.
	Watch(ctx context.Context, fn func(tx Pipeline) error, keys ...string) error

	// EvalPushIfAbsent implements the scripted "push-if-absent" primitive
	// of spec.md §4.1: if queueKey does not already contain key (tested by
	// existence of key itself), key is appended to queueKey, and member is
	// unconditionally added to the set at key. Atomic.
	EvalPushIfAbsent(ctx context.Context, queueKey, key, member string) error

	// Mutex returns a distributed, named mutex usable from any process
	// sharing this store.
	Mutex(name string) Mutex

	// CursorAdvance pops the next element off workKey onto markerKey and
	// returns it, or re-returns markerKey's tail if a prior call crashed
	// before the caller acked it. Returns ok=false when nothing remains.
	CursorAdvance(ctx context.Context, workKey, markerKey string) (string, bool, error)

	// CursorAck removes value from markerKey, completing the iteration step
	// started by the CursorAdvance call that returned it.
	CursorAck(ctx context.Context, markerKey, value string) error
}

// Pipeline is a batch of queued operations, either free-standing (Store.Pipeline)
// or transactional (inside Store.Watch).
type Pipeline interface {
	Set(key, value string)
	Delete(keys ...string)
	Incr(key string)
	HSet(key string, fields map[string]string)
	HDel(key string, fields ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	SMove(src, dst, member string)
	LPush(key string, values ...string)
	RPush(key string, values ...string)

	// Exec sends the queued operations. For a pipeline obtained from
	// Watch, it executes as MULTI/EXEC and returns ErrWatchConflict on a
	// CAS failure. For a free-standing pipeline it simply flushes the
	// batch.
	Exec(ctx context.Context) error
}

// Mutex is a distributed lock safe across processes, per spec.md §4.1.
type Mutex interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	// Wait blocks until the mutex is observed unlocked. It does not itself
	// acquire the lock; callers use it for the coarse-grained
	// "wait while popjoin is locked" check of spec.md §5.
	Wait(ctx context.Context) error
	IsLocked(ctx context.Context) (bool, error)
}

package store

import (
	"strconv"
	"strings"
)

// Key-naming scheme, grounded verbatim on
// inettopology_popmap/data/dbkeys.py. Every package that touches Redis
// directly builds its keys through these functions so the naming scheme
// lives in exactly one place.

// DelayKey returns the key holding raw per-link delay samples. The two
// endpoint IPs are canonicalized lexicographically smaller-first, matching
// dbkeys.py's delay_key.
func DelayKey(ip1, ip2 string) string {
	a, b := ip1, ip2
	if b < a {
		a, b = b, a
	}
	return "ip:links:" + a + ":" + b
}

// IPKey returns the per-IP hash key (fields: pop, asn, ...).
func IPKey(ip string) string {
	return "ip:" + ip
}

// IPListKey is the set of every IP known to the store, populated as
// attribute files are loaded.
const IPListKey = "iplist"

// PoPIncrKey is the counter used to mint new PoP identifiers.
const PoPIncrKey = "popincr"

// PoPListKey is the set of all live (non-joined) PoP ids.
const PoPListKey = "poplist"

// PoPMembersKey returns the set of member IPs for a PoP.
func PoPMembersKey(pop string) string {
	return "pop:" + pop + ":members"
}

// PoPJoinedKey returns the key holding the id a joined-away PoP now points
// to, the union-find parent pointer of spec.md §4.5.
func PoPJoinedKey(pop string) string {
	return "pop:" + pop + ":joined"
}

// PoPASNKey returns the key holding the dominant ASN recorded for a PoP.
func PoPASNKey(pop string) string {
	return "pop:" + pop + ":asn"
}

// PoPCountriesKey returns the set of country codes observed among a PoP's
// members, matching dbkeys.py's POP.countries ("pop:<id>:cc").
func PoPCountriesKey(pop string) string {
	return "pop:" + pop + ":cc"
}

// PoPNeighborsKey returns the set of PoP ids directly linked to this PoP,
// matching dbkeys.py's POP.neighbors ("pop:<id>:connected").
func PoPNeighborsKey(pop string) string {
	return "pop:" + pop + ":connected"
}

// ASNPoPsKey returns the set of PoP ids that have at least one member with
// the given ASN.
func ASNPoPsKey(asn string) string {
	return "asn:" + asn + ":pops"
}

// ASPeeringKey returns the peering-relationship hash for an AS, keyed by
// neighbor ASN with values 1 (this AS is the neighbor's provider), -1 (its
// customer) or 2/-2 (peers), matching AS.relationship in dbkeys.py.
func ASPeeringKey(asn string) string {
	return "as:" + asn + ":peering"
}

// ASPeeringLoadedKey marks that the peering database has been loaded at
// least once.
const ASPeeringLoadedKey = "as:meta:peering_data_loaded"

// InterlinkKey returns the canonical (numerically smaller PoP id first) key
// for an inter-PoP link, matching dbkeys.py's Link.interlink. PoP ids are
// compared numerically, not lexicographically, because they are minted
// from an integer counter.
func InterlinkKey(pop1, pop2 string) string {
	a, b := pop1, pop2
	if popLess(b, a) {
		a, b = b, a
	}
	return "links:inter:" + a + ":" + b
}

func popLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// IntralinkKey returns the key for same-PoP (intra-PoP) link samples.
func IntralinkKey(pop string) string {
	return "links:intra:" + pop
}

// UnassignedLinksKey is the work queue of links not yet assigned to PoPs.
const UnassignedLinksKey = "delayed_job:unassigned_links"

// UnassignedLinkFailsKey is the retry source for links that failed PoP
// assignment, matching dbkeys.py's Link.unassigned_fails.
const UnassignedLinkFailsKey = "delayed_job:unassigned_link_fails"

// UnassignedLinkFails2Key is the persisted-but-exhausted failure set, the
// two-tier failure queue supplemented from the original's retry handling.
const UnassignedLinkFails2Key = "delayed_job:unassigned_link_fails2"

// PoPJoinsKey is the queue of pending PoP-merge jobs.
const PoPJoinsKey = "delayed_job:popjoins"

// PoPJoinsInProcessKey marks joins currently being drained by a worker, so
// a crash mid-drain can be detected and resumed.
const PoPJoinsInProcessKey = "delayed_job:popjoins:inprocess"

// PoPJoinsKnownKey memoizes every (newPop, oldPop) pair already queued for a
// merge, so a link clustering to the same pair of live PoPs many times over
// a run does not flood the join queue with duplicate requests.
const PoPJoinsKnownKey = "delayed_job:popjoins:known"

// JoinHistoryKey is the append log of completed PoP merges.
const JoinHistoryKey = "join:history"

// InterlinksMetaKey is the Redis list of all known interlink keys, the
// backing list LinkDict's resumable cursor iterates over.
const InterlinksMetaKey = "links:inter:meta"

// CollapsedLinkKey returns the key holding the combined latency
// distribution recorded when a degree-two chain is collapsed through the
// given (already-canonicalized) link key.
func CollapsedLinkKey(linkKey string) string {
	return "graph:collapsed:" + linkKey
}

// UsedNodesKey and UsedPathsKey are the shared work sets valley-free
// workers accumulate into, consumed by the final subgraph-extraction step.
const (
	UsedNodesKey = "graph:used_nodes"
	UsedPathsKey = "graph:used_paths"
)

// ShortestPathWorkKey is the shared set of overlay endpoint ids (relay,
// client and destination vertices) still needing a
// single-source-shortest-path computation.
const ShortestPathWorkKey = "graph:sp_work"

// CursorMarkerKey returns the in-process marker list key for a given work
// list key, used with Store.CursorAdvance/CursorAck.
func CursorMarkerKey(workKey string) string {
	return workKey + ":inprocess"
}

// IsInterlinkKey reports whether key names an inter-PoP link.
func IsInterlinkKey(key string) bool {
	return strings.HasPrefix(key, "links:inter:")
}

// ParseInterlinkKey recovers the two PoP ids encoded in an interlink key
// produced by InterlinkKey.
func ParseInterlinkKey(key string) (pop1, pop2 string, ok bool) {
	const prefix = "links:inter:"
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, prefix), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

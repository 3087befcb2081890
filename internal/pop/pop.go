// Package pop implements PoP (point-of-presence) assignment and the
// union-find-style merge machinery that keeps the evolving PoP graph
// consistent as new evidence groups IPs together. Grounded on
// inettopology_popmap/data/dbkeys.py (setpopnumber, descend_target_chain)
// and data/process.py (join_pops, store_link).
package pop

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/netgraph/popmapper/internal/store"
)

// ErrMissingASN mirrors dbkeys.py's setpopnumber raising DataError when an
// IP has no recorded ASN: a PoP cannot be minted for it.
type ErrMissingASN struct{ IP string }

func (e *ErrMissingASN) Error() string { return fmt.Sprintf("pop: IP %s is missing an ASN", e.IP) }

// ErrBadJoinChain mirrors descend_target_chain raising IndexError when the
// bottom of a joined_into chain is not itself a live PoP.
type ErrBadJoinChain struct{ Bottom string }

func (e *ErrBadJoinChain) Error() string {
	return fmt.Sprintf("pop: bottom of join chain %q is not a member of the poplist", e.Bottom)
}

// CountryLookup resolves an IP to ISO country codes. It is optional: when
// nil, PoP creation simply records no country codes, matching the
// original's behavior of logging and continuing when the GeoIP database is
// unavailable.
type CountryLookup interface {
	LookupCountryCodes(ip string) ([]string, error)
}

// GetPop returns the PoP currently recorded for ip, descending any join
// chain to the live PoP id. Returns ok=false if the IP has never been
// assigned.
func GetPop(ctx context.Context, s store.Store, ip string) (string, bool, error) {
	pop, ok, err := s.HGet(ctx, store.IPKey(ip), "pop")
	if err != nil || !ok || pop == "" {
		return "", false, err
	}
	bottom, err := DescendTargetChain(ctx, s, pop)
	if err != nil {
		return "", false, err
	}
	return bottom, true, nil
}

// DescendTargetChain follows a PoP's joined-into pointer chain to its
// bottom (the still-live PoP it was ultimately merged into), compressing
// every visited pointer to point directly at the bottom, matching
// process.py's descend_target_chain.
func DescendTargetChain(ctx context.Context, s store.Store, target string) (string, error) {
	visited := make(map[string]bool)
	bottom := target

	for {
		next, ok, err := s.Get(ctx, store.PoPJoinedKey(bottom))
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		visited[bottom] = true
		bottom = next
	}

	if len(visited) > 0 {
		isMember, err := s.SIsMember(ctx, store.PoPListKey, bottom)
		if err != nil {
			return "", err
		}
		if !isMember {
			return "", &ErrBadJoinChain{Bottom: bottom}
		}
		pipe := s.Pipeline()
		for node := range visited {
			if node != bottom {
				pipe.Set(store.PoPJoinedKey(node), bottom)
			}
		}
		if err := pipe.Exec(ctx); err != nil {
			return "", err
		}
	}

	return bottom, nil
}

// SetPopNumber mints a new PoP id, assigns ip as its first member, and
// records the PoP's ASN and (if lookup is non-nil) country codes, matching
// dbkeys.py's setpopnumber.
func SetPopNumber(ctx context.Context, s store.Store, ip string, lookup CountryLookup) (string, error) {
	pipe := s.Pipeline()
	pop, err := setPopNumber(ctx, s, pipe, ip, lookup)
	if err != nil {
		return "", err
	}
	if err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return pop, nil
}

// setPopNumber is SetPopNumber's queue-only variant: it mints the PoP id and
// reads the IP's ASN immediately (PoPIncrKey and the ASN field are not part
// of any watched CAS), but queues every write, including the ip record's
// pop field, onto pipe instead of executing them itself. Callers that need
// the ip record write to be part of a larger optimistic transaction (see
// assignKey) pass the tx Pipeline from Store.Watch here and let Watch
// commit it.
func setPopNumber(ctx context.Context, s store.Store, pipe store.Pipeline, ip string, lookup CountryLookup) (string, error) {
	n, err := s.Incr(ctx, store.PoPIncrKey)
	if err != nil {
		return "", err
	}
	pop := strconv.FormatInt(n, 10)

	asn, ok, err := s.HGet(ctx, store.IPKey(ip), "asn")
	if err != nil {
		return "", err
	}
	if !ok || asn == "" {
		return "", &ErrMissingASN{IP: ip}
	}

	pipe.SAdd(store.PoPListKey, pop)
	pipe.SAdd(store.PoPMembersKey(pop), ip)
	pipe.HSet(store.IPKey(ip), map[string]string{"pop": pop})

	if lookup != nil {
		if cc, err := lookup.LookupCountryCodes(ip); err == nil && len(cc) > 0 {
			pipe.SAdd(store.PoPCountriesKey(pop), cc...)
		}
	}

	pipe.Set(store.PoPASNKey(pop), asn)
	pipe.SAdd(store.ASNPoPsKey(asn), pop)

	return pop, nil
}

// GetDelay returns the median of the raw delay samples recorded for a
// link, matching dbkeys.py's get_delay (sorted, middle element; Python 2
// integer division biases toward the upper-middle sample on even counts,
// preserved here).
func GetDelay(ctx context.Context, s store.Store, linkKey string) (float64, error) {
	samples, err := s.SMembers(ctx, linkKey)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, fmt.Errorf("pop: no delay samples for %s", linkKey)
	}
	vals := make([]float64, 0, len(samples))
	for _, sample := range samples {
		v, err := strconv.ParseFloat(sample, 64)
		if err != nil {
			continue
		}
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	return vals[len(vals)/2], nil
}

// SplitDelayKey recovers the two IPs encoded in a delay-key queue entry.
func SplitDelayKey(key string) (ip1, ip2 string, ok bool) {
	const prefix = "ip:links:"
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, prefix), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// StoreLink records a link's samples under the appropriate intra- or
// inter-PoP key and, for interlinks, registers the neighbor relationship
// both ways. Matches process.py's store_link.
func StoreLink(pipe store.Pipeline, samples []string, pop1, pop2 string) {
	if len(samples) == 0 {
		return
	}
	if pop2 != "" && pop1 != pop2 {
		pipe.SAdd(store.PoPNeighborsKey(pop1), pop2)
		pipe.SAdd(store.PoPNeighborsKey(pop2), pop1)
		pipe.SAdd(store.InterlinkKey(pop1, pop2), samples...)
		return
	}
	pipe.SAdd(store.IntralinkKey(pop1), samples...)
}

// ErrASNNotKnown mirrors graph/objects.py's ASNNotKnown: the ASN has no PoP
// recorded for it at all.
type ErrASNNotKnown struct{ ASN string }

func (e *ErrASNNotKnown) Error() string { return fmt.Sprintf("pop: ASN %s has no known PoP", e.ASN) }

// FindPopForASN returns the PoP an ASN should attach overlay endpoints to:
// its only PoP if it has exactly one, otherwise the PoP with the most
// member IPs, matching graph/core.py's find_pop_for_asn.
func FindPopForASN(ctx context.Context, s store.Store, asn string) (string, error) {
	pops, err := s.SMembers(ctx, store.ASNPoPsKey(asn))
	if err != nil {
		return "", err
	}
	if len(pops) == 0 {
		return "", &ErrASNNotKnown{ASN: asn}
	}
	if len(pops) == 1 {
		return pops[0], nil
	}

	best, bestSize := "", int64(-1)
	for _, pop := range pops {
		size, err := s.SCard(ctx, store.PoPMembersKey(pop))
		if err != nil {
			return "", err
		}
		if size > bestSize {
			best, bestSize = pop, size
		}
	}
	return best, nil
}

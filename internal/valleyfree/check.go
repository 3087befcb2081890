package valleyfree

import (
	"context"
	"errors"
	"strconv"

	"github.com/netgraph/popmapper/internal/store"
)

// ErrNotValleyFree mirrors concurrent.py's ValleyFreeError: a path climbs
// back up through a provider after already having descended through one.
var ErrNotValleyFree = errors.New("valleyfree: path is not valley-free")

// Relationship is the AS-to-AS peering relationship as recorded by the AS
// relationship database: a provider serves a customer, or two ASes peer.
type Relationship int

const (
	RelationshipProvider Relationship = 1  // as1 is a provider of as2
	RelationshipCustomer Relationship = -1 // as1 is a customer of as2
	RelationshipPeer     Relationship = 2  // as1 and as2 peer; -2 from as2's perspective
)

// GetRelationship looks up the relationship from as1's perspective,
// falling back to as2's and inverting, matching concurrent.py's
// "try the other side" fallback.
func GetRelationship(ctx context.Context, s store.Store, as1, as2 string) (Relationship, bool, error) {
	raw, ok, err := s.HGet(ctx, store.ASPeeringKey(as1), as2)
	if err != nil {
		return 0, false, err
	}
	if ok {
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			return 0, false, nil
		}
		return Relationship(n), true, nil
	}

	raw, ok, err = s.HGet(ctx, store.ASPeeringKey(as2), as1)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		return 0, false, nil
	}
	return Relationship(-n), true, nil
}

// PeeringDataLoaded reports whether the AS peering database has been
// loaded at all.
func PeeringDataLoaded(ctx context.Context, s store.Store) (bool, error) {
	raw, ok, err := s.Get(ctx, store.ASPeeringLoadedKey)
	if err != nil || !ok {
		return false, err
	}
	return raw == "true", nil
}

// CheckValleyFree walks the AS-path implied by path (node-to-ASN via
// asnOf, skipping the "N/A" sentinel), returning the count of hops with no
// recorded relationship and the total AS-hop count. It returns
// ErrNotValleyFree the moment the path climbs through a provider after
// already having descended through one. Matches concurrent.py's
// check_valley_free.
func CheckValleyFree(ctx context.Context, s store.Store, path []string, asnOf func(string) string) (unknownHops, totalHops float64, err error) {
	loaded, err := PeeringDataLoaded(ctx, s)
	if err != nil {
		return 0, 1, err
	}
	if !loaded {
		return 0, 1, nil
	}
	if len(path) == 0 {
		return 0, 1, nil
	}

	var asnPath []string
	for _, node := range path {
		asn := asnOf(node)
		if asn != "N/A" && asn != "" {
			asnPath = append(asnPath, asn)
		}
	}

	wentDown := false
	for i := 0; i+1 < len(asnPath); i++ {
		as1, as2 := asnPath[i], asnPath[i+1]
		totalHops++
		if as1 == as2 {
			continue
		}

		rel, ok, err := GetRelationship(ctx, s, as1, as2)
		if err != nil {
			return unknownHops, totalHops, err
		}
		if !ok {
			unknownHops++
			continue
		}

		switch rel {
		case RelationshipProvider:
			wentDown = true
		case RelationshipCustomer:
			if wentDown {
				return unknownHops, totalHops, ErrNotValleyFree
			}
		}
	}

	return unknownHops, totalHops, nil
}

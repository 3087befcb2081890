// Package linkdict builds and reduces the in-memory PoP adjacency graph
// that feeds the final topology export: loading every known inter-PoP link
// from the store, trimming degree-one leaves to a fixpoint, and collapsing
// degree-two chains into single combined-latency edges. Grounded on
// inettopology_popmap/graph/objects.py's LinkDict and
// inettopology_popmap/graph/core.py's trim/collapse driver loops.
package linkdict

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/graphutil"
	"github.com/netgraph/popmapper/internal/store"
)

// LinkDict is the adjacency map of live PoP ids. Values are sets of
// directly-connected PoP ids, mirroring the Python original's dict of
// Python sets.
type LinkDict struct {
	adj       map[string]map[string]struct{}
	maxDegree string
	log       *zap.Logger
}

// Load builds a LinkDict from every interlink recorded in the store,
// skipping links where either endpoint has no known ASN (graph_objects.py's
// ASN-filter in LinkDict.__init__). It populates the resumable interlinks
// meta key on first use and drains it through Store's cursor primitive so a
// crash mid-load can be resumed without re-scanning Redis.
func Load(ctx context.Context, s store.Store, log *zap.Logger) (*LinkDict, error) {
	log = log.Named("linkdict")

	exists, err := s.Exists(ctx, store.InterlinksMetaKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		log.Info("building interlinks meta key")
		keys, err := s.Keys(ctx, "links:inter:*")
		if err != nil {
			return nil, err
		}
		const batchSize = 100
		for i := 0; i < len(keys); i += batchSize {
			end := i + batchSize
			if end > len(keys) {
				end = len(keys)
			}
			if err := s.LPush(ctx, store.InterlinksMetaKey, keys[i:end]...); err != nil {
				return nil, err
			}
		}
	}

	ld := &LinkDict{adj: make(map[string]map[string]struct{}), log: log, maxDegree: ""}
	markerKey := store.CursorMarkerKey(store.InterlinksMetaKey)

	for {
		link, ok, err := s.CursorAdvance(ctx, store.InterlinksMetaKey, markerKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		pop1, pop2, ok := store.ParseInterlinkKey(link)
		if !ok {
			log.Warn("skipping malformed interlink key", zap.String("key", link))
			if err := s.CursorAck(ctx, markerKey, link); err != nil {
				return nil, err
			}
			continue
		}

		asn1, ok1, err := s.Get(ctx, store.PoPASNKey(pop1))
		if err != nil {
			return nil, err
		}
		asn2, ok2, err := s.Get(ctx, store.PoPASNKey(pop2))
		if err != nil {
			return nil, err
		}
		if !ok1 || asn1 == "None" || asn1 == "N/A" || !ok2 || asn2 == "None" || asn2 == "N/A" {
			if err := s.CursorAck(ctx, markerKey, link); err != nil {
				return nil, err
			}
			continue
		}

		ld.addEdge(pop1, pop2)
		ld.addEdge(pop2, pop1)

		if err := s.CursorAck(ctx, markerKey, link); err != nil {
			return nil, err
		}
	}

	return ld, nil
}

func (ld *LinkDict) addEdge(from, to string) {
	set, ok := ld.adj[from]
	if !ok {
		set = make(map[string]struct{})
		ld.adj[from] = set
	}
	set[to] = struct{}{}
	if ld.maxDegree == "" || len(set) > len(ld.adj[ld.maxDegree]) {
		ld.maxDegree = from
	}
}

// MaxDegree returns the PoP id with the highest observed degree, used as
// the BFS root when the reduced graph is written out.
func (ld *LinkDict) MaxDegree() string { return ld.maxDegree }

// Len returns the number of PoPs still present in the dictionary.
func (ld *LinkDict) Len() int { return len(ld.adj) }

// PoPs returns every PoP id currently present.
func (ld *LinkDict) PoPs() []string {
	out := make([]string, 0, len(ld.adj))
	for pop := range ld.adj {
		out = append(out, pop)
	}
	return out
}

// Neighbors returns the set of PoPs directly connected to pop.
func (ld *LinkDict) Neighbors(pop string) []string {
	set := ld.adj[pop]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// TrimStats summarizes one TrimDegreeOne run.
type TrimStats struct {
	Passes  int
	Trimmed int
}

// TrimDegreeOne repeatedly removes PoPs with fewer than two remaining
// connections, unless protected, cascading until no more hanging edges
// exist. Matches graph/core.py's "Trimming degree-1 vertices" loop.
func (ld *LinkDict) TrimDegreeOne(protected map[string]bool) TrimStats {
	var stats TrimStats
	foundHanging := true

	for foundHanging {
		stats.Passes++
		foundHanging = false
		removed := make(map[string]bool)

		for pop := range ld.adj {
			if removed[pop] {
				continue
			}
			if len(ld.adj[pop]) >= 2 {
				continue
			}
			if protected[pop] {
				continue
			}

			var connected string
			for n := range ld.adj[pop] {
				connected = n
				break
			}

			removed[pop] = true
			delete(ld.adj, pop)
			if conns, ok := ld.adj[connected]; ok {
				delete(conns, pop)
				if len(conns) == 0 {
					delete(ld.adj, connected)
					removed[connected] = true
					stats.Trimmed++
				}
			}

			stats.Trimmed++
			foundHanging = true
		}
	}

	return stats
}

// CollapseDeps supplies the store access CollapseDegreeTwo needs to decide
// collapsibility (shared ASN/country) and to read/write combined latency
// distributions.
type CollapseDeps struct {
	Store store.Store
}

// CollapseStats summarizes one CollapseDegreeTwo run.
type CollapseStats struct {
	Passes    int
	Collapsed int
}

// CollapseDegreeTwo repeatedly collapses degree-two PoPs whose ASN and
// country set agree with their neighbors into a single edge carrying the
// combined latency distribution, matching
// graph/objects.py's LinkDict.collapse_degree_two.
func (ld *LinkDict) CollapseDegreeTwo(ctx context.Context, deps CollapseDeps, protected map[string]bool) (CollapseStats, error) {
	var stats CollapseStats
	collapsable := true
	ignoreable := make(map[string]bool)

	for collapsable {
		stats.Passes++
		collapsable = false
		collapsedThisPass := make(map[string]bool)

		for node, conns := range ld.adj {
			if ignoreable[node] || len(conns) != 2 {
				continue
			}

			var side1, side2 string
			i := 0
			for n := range conns {
				if i == 0 {
					side1 = n
				} else {
					side2 = n
				}
				i++
			}

			group := []string{node, side1, side2}
			sameASN, sameCountry, err := sameASNAndCountry(ctx, deps.Store, group)
			if err != nil {
				return stats, err
			}
			if !sameASN || !sameCountry || protected[node] {
				ignoreable[node] = true
				ignoreable[side1] = true
				ignoreable[side2] = true
				continue
			}
			if collapsedThisPass[node] || collapsedThisPass[side1] || collapsedThisPass[side2] {
				continue
			}
			collapsedThisPass[node] = true
			collapsedThisPass[side1] = true
			collapsedThisPass[side2] = true

			side1Deciles, err := InterlinkDeciles(ctx, deps.Store, node, side1)
			if err != nil {
				return stats, err
			}
			side2Deciles, err := InterlinkDeciles(ctx, deps.Store, node, side2)
			if err != nil {
				return stats, err
			}

			combined := graphutil.SumDeciles(side1Deciles, side2Deciles)
			if err := store.SetCollapsedLink(ctx, deps.Store, side1, side2, combined); err != nil {
				return stats, err
			}

			delete(ld.adj, node)
			ld.adj[side1][side2] = struct{}{}
			ld.adj[side2][side1] = struct{}{}
			delete(ld.adj[side1], node)
			delete(ld.adj[side2], node)

			stats.Collapsed++
			collapsable = true
		}
	}

	return stats, nil
}

func sameASNAndCountry(ctx context.Context, s store.Store, group []string) (sameASN, sameCountry bool, err error) {
	asns := make([]string, len(group))
	for i, pop := range group {
		asn, _, err := s.Get(ctx, store.PoPASNKey(pop))
		if err != nil {
			return false, false, err
		}
		asns[i] = asn
	}
	sameASN = true
	for i := 1; i < len(asns); i++ {
		if asns[i] != asns[0] {
			sameASN = false
			break
		}
	}

	countries := make([]map[string]struct{}, len(group))
	for i, pop := range group {
		cc, err := s.SMembers(ctx, store.PoPCountriesKey(pop))
		if err != nil {
			return false, false, err
		}
		set := make(map[string]struct{}, len(cc))
		for _, c := range cc {
			set[c] = struct{}{}
		}
		countries[i] = set
	}
	sameCountry = true
	for i := 1; i < len(countries); i++ {
		if !isSubset(countries[0], countries[i]) {
			sameCountry = false
			break
		}
	}

	return sameASN, sameCountry, nil
}

func isSubset(a, b map[string]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// InterlinkDeciles reads the decile summary of delay samples recorded for
// the PoP-pair link, falling back to a previously collapsed summary (stored
// under the collapsed-link key) when the raw samples were already folded
// away by an earlier pass, matching the original's try/except fallback.
// Exported so internal/pipeline can reuse it when assembling the initial
// edge list from a trimmed-but-not-yet-collapsed LinkDict.
func InterlinkDeciles(ctx context.Context, s store.Store, pop1, pop2 string) ([]float64, error) {
	key := store.InterlinkKey(pop1, pop2)
	samples, err := s.SMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		vals, err := parseFloats(samples)
		if err != nil {
			return nil, err
		}
		deciles, err := graphutil.DecileTransform(vals)
		if err == nil {
			return deciles, nil
		}
	}
	return store.GetCollapsedLink(ctx, s, pop1, pop2)
}

func parseFloats(samples []string) ([]float64, error) {
	out := make([]float64, 0, len(samples))
	for _, sample := range samples {
		var v float64
		if _, err := fmt.Sscanf(sample, "%g", &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

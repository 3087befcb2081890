package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/netgraph/popmapper/internal/graphio"
	"github.com/netgraph/popmapper/internal/linkdict"
	"github.com/netgraph/popmapper/internal/overlay"
	"github.com/netgraph/popmapper/internal/store"
)

// edgeDeciles resolves the latency decile summary for a PoP-pair edge,
// reusing the same raw-sample-or-collapsed-fallback lookup the reduction
// pass itself uses.
func edgeDeciles(ctx context.Context, s store.Store, pop1, pop2 string) ([]float64, error) {
	return linkdict.InterlinkDeciles(ctx, s, pop1, pop2)
}

// reduceToUsed filters vertices and edges down to what valleyfree.RunWorkers
// marked as actually on a shortest valley-free path, matching graph/core.py's
// final "keep only edges that are on some shortest path" reduction.
func reduceToUsed(ctx context.Context, s store.Store, vertices *graphio.VertexList, edges []graphio.EdgeLink) (*graphio.VertexList, []graphio.EdgeLink, error) {
	usedNodes, err := s.SMembers(ctx, store.UsedNodesKey)
	if err != nil {
		return nil, nil, err
	}
	usedSet := make(map[string]bool, len(usedNodes))
	for _, n := range usedNodes {
		usedSet[n] = true
	}

	filtered := graphio.NewVertexList()
	for _, id := range vertices.IDs() {
		if !usedSet[id] {
			continue
		}
		attrs, _ := vertices.Attrs(id)
		if err := filtered.AddVertex(id, attrs); err != nil {
			return nil, nil, err
		}
	}

	usedPaths, err := s.SMembers(ctx, store.UsedPathsKey)
	if err != nil {
		return nil, nil, err
	}
	usedHops := make(map[string]bool, len(usedPaths))
	for _, hop := range usedPaths {
		usedHops[hop] = true
	}

	var filteredEdges []graphio.EdgeLink
	for _, e := range edges {
		if usedSet[e.A] && usedSet[e.B] && (usedHops[e.A+"\x00"+e.B] || usedHops[e.B+"\x00"+e.A]) {
			filteredEdges = append(filteredEdges, e)
		}
	}

	return filtered, filteredEdges, nil
}

func writeOutput(path string, vertices *graphio.VertexList, edges []graphio.EdgeLink) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: creating %s: %w", path, err)
	}
	defer f.Close()
	return graphio.WriteGraphML(f, vertices, edges)
}

func writeDOTOutput(path string, vertices *graphio.VertexList, edges []graphio.EdgeLink) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: creating %s: %w", path, err)
	}
	defer f.Close()
	return graphio.WriteDOT(f, vertices, edges)
}

func writeVertexList(path string, vertices *graphio.VertexList) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pipeline: creating %s: %w", path, err)
	}
	defer f.Close()
	return vertices.Write(f)
}

// relayFile is the JSON shape of the --tor_relays input file: a list of
// objects each naming the relay's IP, its PoP attach point, and its ASN.
type relayFile []struct {
	RelayIP string `json:"relay_ip"`
	Pop     string `json:"pop"`
	ASN     string `json:"asn"`
}

func loadRelays(path string) ([]overlay.Relay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw relayFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("pipeline: parsing relay file %s: %w", path, err)
	}
	relays := make([]overlay.Relay, 0, len(raw))
	for _, r := range raw {
		relays = append(relays, overlay.Relay{
			RelayIP: r.RelayIP,
			Pop:     r.Pop,
			Extra:   map[string]string{"asn": r.ASN},
		})
	}
	return relays, nil
}

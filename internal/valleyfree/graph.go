// Package valleyfree validates that shortest paths through the reduced
// topology obey the valley-free routing property (a path may only descend
// through provider->customer links after it has finished climbing through
// customer->provider links), repairing paths that violate it, and runs
// this check in parallel across every relay/client/destination target.
// Grounded on inettopology_popmap/graph/concurrent.py and
// graph/pqueue.py's heap-based frontier search.
package valleyfree

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/netgraph/popmapper/internal/graphio"
)

// NodeAttrs holds the attributes CheckValleyFree and the worker loop need
// per node: ASN (for relationship lookups) and node type (to decide which
// targets need a validated path at all).
type NodeAttrs struct {
	ASN      string
	NodeType string
}

// Graph is the gonum-backed weighted undirected graph used for shortest
// path computation, plus the string<->int64 id mapping and per-node
// attributes the original kept as networkx node attributes.
type Graph struct {
	G       *simple.WeightedUndirectedGraph
	attrs   map[string]NodeAttrs
	idOf    map[string]int64
	nodeOf  map[int64]string
}

// BuildGraph constructs a Graph from the reduced vertex/edge lists,
// weighting each edge by the median of its latency deciles.
func BuildGraph(vertices *graphio.VertexList, edges []graphio.EdgeLink, typeOf, asnOf func(id string) string) *Graph {
	g := &Graph{
		G:      simple.NewWeightedUndirectedGraph(0, 0),
		attrs:  make(map[string]NodeAttrs),
		idOf:   make(map[string]int64),
		nodeOf: make(map[int64]string),
	}

	for i, id := range vertices.IDs() {
		n := int64(i)
		g.idOf[id] = n
		g.nodeOf[n] = id
		g.attrs[id] = NodeAttrs{ASN: asnOf(id), NodeType: typeOf(id)}
		g.G.AddNode(simple.Node(n))
	}

	for _, e := range edges {
		a, okA := g.idOf[e.A]
		b, okB := g.idOf[e.B]
		if !okA || !okB {
			continue
		}
		weight := 0.0
		if len(e.Latency) > 0 {
			weight = e.Latency[len(e.Latency)/2]
		}
		g.G.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: weight})
	}

	return g
}

func (g *Graph) ID(node string) (int64, bool) {
	id, ok := g.idOf[node]
	return id, ok
}

func (g *Graph) Node(id int64) (string, bool) {
	node, ok := g.nodeOf[id]
	return node, ok
}

func (g *Graph) ASN(node string) string      { return g.attrs[node].ASN }
func (g *Graph) NodeType(node string) string { return g.attrs[node].NodeType }

// Neighbors returns the node ids directly connected to node.
func (g *Graph) Neighbors(node string) []string {
	id, ok := g.idOf[node]
	if !ok {
		return nil
	}
	var out []string
	nodes := g.G.From(id)
	for nodes.Next() {
		out = append(out, g.nodeOf[nodes.Node().ID()])
	}
	return out
}

// EdgeWeight returns the weight of the edge between a and b.
func (g *Graph) EdgeWeight(a, b string) (float64, bool) {
	aid, okA := g.idOf[a]
	bid, okB := g.idOf[b]
	if !okA || !okB {
		return 0, false
	}
	edge := g.G.WeightedEdge(aid, bid)
	if edge == nil {
		return 0, false
	}
	return edge.Weight(), true
}

var _ graph.Weighted = (*simple.WeightedUndirectedGraph)(nil)

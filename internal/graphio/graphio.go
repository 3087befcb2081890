// Package graphio holds the in-memory vertex/edge model for the reduced
// topology and writes it out as GraphML, optionally DOT, and a flat
// vertices.dat text dump. Grounded on
// inettopology_popmap/graph/objects.py's VertexList/EdgeLink/Stats and
// graph/core.py's write step.
package graphio

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// ErrDuplicateVertex mirrors graph/objects.py's DuplicateVertex.
type ErrDuplicateVertex struct{ ID string }

func (e *ErrDuplicateVertex) Error() string { return fmt.Sprintf("graphio: duplicate vertex %q", e.ID) }

// Vertex is one node in the exported graph, with a free-form attribute bag
// matching VertexList's kwargs-as-attrs style.
type Vertex struct {
	ID    string
	Attrs map[string]string
}

// VertexList is an insertion-ordered collection of Vertex, matching
// VertexList's dict-of-attrs behavior while giving deterministic output
// order for the writers below.
type VertexList struct {
	order []string
	byID  map[string]*Vertex
}

func NewVertexList() *VertexList {
	return &VertexList{byID: make(map[string]*Vertex)}
}

// AddVertex inserts a new vertex, storing attrs as given; it returns
// ErrDuplicateVertex if id is already present.
func (vl *VertexList) AddVertex(id string, attrs map[string]string) error {
	if _, exists := vl.byID[id]; exists {
		return &ErrDuplicateVertex{ID: id}
	}
	vl.byID[id] = &Vertex{ID: id, Attrs: attrs}
	vl.order = append(vl.order, id)
	return nil
}

func (vl *VertexList) Has(id string) bool {
	_, ok := vl.byID[id]
	return ok
}

func (vl *VertexList) Len() int { return len(vl.order) }

// Attrs returns the attribute bag for a vertex, if present.
func (vl *VertexList) Attrs(id string) (map[string]string, bool) {
	v, ok := vl.byID[id]
	if !ok {
		return nil, false
	}
	return v.Attrs, true
}

func (vl *VertexList) IDs() []string {
	out := make([]string, len(vl.order))
	copy(out, vl.order)
	return out
}

// Write dumps one line per vertex as "<id> attr=val attr=val", matching
// VertexList.write.
func (vl *VertexList) Write(w io.Writer) error {
	for _, id := range vl.order {
		v := vl.byID[id]
		keys := make([]string, 0, len(v.Attrs))
		for k := range v.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if _, err := fmt.Fprintf(w, "%s ", id); err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := fmt.Fprintf(w, "%s=%s ", k, v.Attrs[k]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// EdgeLink is one edge between two vertices, carrying a latency decile
// distribution and any other free-form attributes, matching
// graph/objects.py's EdgeLink.
type EdgeLink struct {
	A, B    string
	Latency []float64
	Attrs   map[string]string
}

func (e *EdgeLink) latencyString() string {
	parts := make([]string, len(e.Latency))
	for i, v := range e.Latency {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// --- GraphML ---

type gmlKey struct {
	XMLName xml.Name `xml:"key"`
	ID      string   `xml:"id,attr"`
	For     string   `xml:"for,attr"`
	AttrFor string   `xml:"attr.name,attr"`
	AttrTy  string   `xml:"attr.type,attr"`
}

type gmlData struct {
	XMLName xml.Name `xml:"data"`
	Key     string   `xml:"key,attr"`
	Value   string   `xml:",chardata"`
}

type gmlNode struct {
	XMLName xml.Name  `xml:"node"`
	ID      string    `xml:"id,attr"`
	Data    []gmlData `xml:"data"`
}

type gmlEdge struct {
	XMLName xml.Name  `xml:"edge"`
	Source  string    `xml:"source,attr"`
	Target  string    `xml:"target,attr"`
	Data    []gmlData `xml:"data"`
}

type gmlGraph struct {
	XMLName     xml.Name  `xml:"graph"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Nodes       []gmlNode `xml:"node"`
	Edges       []gmlEdge `xml:"edge"`
}

type gmlRoot struct {
	XMLName xml.Name `xml:"graphml"`
	Keys    []gmlKey `xml:"key"`
	Graph   gmlGraph `xml:"graph"`
}

// WriteGraphML serializes vertices and edges as a GraphML document readable
// by any standard graph toolkit, matching nx.write_graphml's shape (keys
// declared up front, node/edge data elements referencing them by id).
func WriteGraphML(w io.Writer, vertices *VertexList, edges []EdgeLink) error {
	attrNames := map[string]bool{}
	for _, id := range vertices.order {
		for k := range vertices.byID[id].Attrs {
			attrNames[k] = true
		}
	}

	keyNames := make([]string, 0, len(attrNames)+1)
	for k := range attrNames {
		keyNames = append(keyNames, k)
	}
	sort.Strings(keyNames)
	keyNames = append(keyNames, "latency")

	keyID := make(map[string]string, len(keyNames))
	root := gmlRoot{Graph: gmlGraph{EdgeDefault: "undirected"}}
	for i, name := range keyNames {
		id := fmt.Sprintf("k%d", i)
		keyID[name] = id
		forAttr := "node"
		if name == "latency" {
			forAttr = "edge"
		}
		root.Keys = append(root.Keys, gmlKey{ID: id, For: forAttr, AttrFor: name, AttrTy: "string"})
	}

	for _, id := range vertices.order {
		v := vertices.byID[id]
		node := gmlNode{ID: id}
		names := make([]string, 0, len(v.Attrs))
		for k := range v.Attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			node.Data = append(node.Data, gmlData{Key: keyID[k], Value: v.Attrs[k]})
		}
		root.Graph.Nodes = append(root.Graph.Nodes, node)
	}

	for _, e := range edges {
		edge := gmlEdge{Source: e.A, Target: e.B}
		edge.Data = append(edge.Data, gmlData{Key: keyID["latency"], Value: e.latencyString()})
		names := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if id, ok := keyID[k]; ok {
				edge.Data = append(edge.Data, gmlData{Key: id, Value: e.Attrs[k]})
			}
		}
		root.Graph.Edges = append(root.Graph.Edges, edge)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(root)
}

// WriteDOT renders the same graph through gonum's DOT encoder. Failures
// here are non-fatal to callers, matching the original's
// "Failed to write dot graph" try/except around nx.write_dot.
func WriteDOT(w io.Writer, vertices *VertexList, edges []EdgeLink) error {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	ids := make(map[string]int64, vertices.Len())
	for i, id := range vertices.order {
		n := int64(i)
		ids[id] = n
		g.AddNode(simple.Node(n))
	}
	for _, e := range edges {
		a, okA := ids[e.A]
		b, okB := ids[e.B]
		if !okA || !okB {
			continue
		}
		weight := 0.0
		if len(e.Latency) > 0 {
			weight = e.Latency[len(e.Latency)/2]
		}
		g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: weight})
	}

	data, err := dot.Marshal(g, "popgraph", "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

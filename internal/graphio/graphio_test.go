package graphio

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVertexList_RejectsDuplicates(t *testing.T) {
	vl := NewVertexList()
	require.NoError(t, vl.AddVertex("1", map[string]string{"nodetype": "pop"}))
	err := vl.AddVertex("1", map[string]string{"nodetype": "pop"})
	require.Error(t, err)
	var dup *ErrDuplicateVertex
	require.ErrorAs(t, err, &dup)
}

func TestVertexList_Write(t *testing.T) {
	vl := NewVertexList()
	require.NoError(t, vl.AddVertex("1", map[string]string{"nodetype": "pop", "asn": "65000"}))
	var buf bytes.Buffer
	require.NoError(t, vl.Write(&buf))
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "1 "))
	require.Contains(t, out, "asn=65000")
	require.Contains(t, out, "nodetype=pop")
}

func TestWriteGraphML_ProducesWellFormedXML(t *testing.T) {
	vl := NewVertexList()
	require.NoError(t, vl.AddVertex("1", map[string]string{"nodetype": "pop"}))
	require.NoError(t, vl.AddVertex("2", map[string]string{"nodetype": "pop"}))
	edges := []EdgeLink{{A: "1", B: "2", Latency: []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}}

	var buf bytes.Buffer
	require.NoError(t, WriteGraphML(&buf, vl, edges))
	out := buf.String()
	require.Contains(t, out, "<graphml")
	require.Contains(t, out, `source="1"`)
	require.Contains(t, out, `target="2"`)
}

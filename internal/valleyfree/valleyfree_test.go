package valleyfree

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/graphio"
	"github.com/netgraph/popmapper/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewRedisStoreFromClient(client)
}

func setPeering(t *testing.T, ctx context.Context, s store.Store, as1, as2 string, rel Relationship) {
	t.Helper()
	require.NoError(t, s.HSet(ctx, store.ASPeeringKey(as1), map[string]string{as2: itoa(int(rel))}))
}

func itoa(n int) string {
	if n < 0 {
		return "-" + itoa(-n)
	}
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func loadPeering(t *testing.T, ctx context.Context, s store.Store) {
	t.Helper()
	require.NoError(t, s.Set(ctx, store.ASPeeringLoadedKey, "true"))
}

func TestGetRelationship_DirectAndFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setPeering(t, ctx, s, "100", "200", RelationshipProvider)

	rel, ok, err := GetRelationship(ctx, s, "100", "200")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RelationshipProvider, rel)

	rel, ok, err = GetRelationship(ctx, s, "200", "100")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RelationshipCustomer, rel)
}

func TestGetRelationship_Unknown(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := GetRelationship(context.Background(), s, "1", "2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckValleyFree_SkipsWhenPeeringNotLoaded(t *testing.T) {
	s := newTestStore(t)
	_, total, err := CheckValleyFree(context.Background(), s, []string{"a", "b"}, func(string) string { return "100" })
	require.NoError(t, err)
	require.Equal(t, 1.0, total)
}

func TestCheckValleyFree_ValleyFreePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadPeering(t, ctx, s)
	setPeering(t, ctx, s, "100", "200", RelationshipCustomer) // 100 climbs up to provider 200
	setPeering(t, ctx, s, "200", "300", RelationshipProvider) // 200 descends to customer 300

	asnOf := map[string]string{"a": "100", "b": "200", "c": "300"}
	_, _, err := CheckValleyFree(ctx, s, []string{"a", "b", "c"}, func(n string) string { return asnOf[n] })
	require.NoError(t, err)
}

func TestCheckValleyFree_DetectsViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadPeering(t, ctx, s)
	setPeering(t, ctx, s, "100", "200", RelationshipProvider) // 100 descends to customer 200
	setPeering(t, ctx, s, "200", "300", RelationshipCustomer) // 200 climbs back up to provider 300 - violation

	asnOf := map[string]string{"a": "100", "b": "200", "c": "300"}
	_, _, err := CheckValleyFree(ctx, s, []string{"a", "b", "c"}, func(n string) string { return asnOf[n] })
	require.ErrorIs(t, err, ErrNotValleyFree)
}

func buildTriangleGraph() (*Graph, *graphio.VertexList) {
	vertices := graphio.NewVertexList()
	_ = vertices.AddVertex("a", nil)
	_ = vertices.AddVertex("b", nil)
	_ = vertices.AddVertex("c", nil)

	edges := []graphio.EdgeLink{
		{A: "a", B: "b", Latency: []float64{1}},
		{A: "b", B: "c", Latency: []float64{1}},
		{A: "a", B: "c", Latency: []float64{5}},
	}

	asn := map[string]string{"a": "100", "b": "200", "c": "300"}
	g := BuildGraph(vertices, edges, func(id string) string { return "pop" }, func(id string) string { return asn[id] })
	return g, vertices
}

func TestValleyFreePath_FindsPathAvoidingViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadPeering(t, ctx, s)
	setPeering(t, ctx, s, "100", "200", RelationshipProvider)
	setPeering(t, ctx, s, "200", "300", RelationshipCustomer) // a->b->c would descend then climb
	setPeering(t, ctx, s, "100", "300", RelationshipProvider)

	g, _ := buildTriangleGraph()
	path, _, err := ValleyFreePath(ctx, s, g, "a", "c")
	require.NoError(t, err)
	require.NotEmpty(t, path)
	require.Equal(t, "a", path[0])
	require.Equal(t, "c", path[len(path)-1])
	require.Equal(t, []string{"a", "c"}, path)
}

func TestRunWorkers_DrainsWorkQueueAndRecordsUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	loadPeering(t, ctx, s)
	setPeering(t, ctx, s, "100", "200", RelationshipProvider)
	setPeering(t, ctx, s, "200", "300", RelationshipProvider)

	g, vertices := buildTriangleGraph()
	_ = vertices

	require.NoError(t, s.SAdd(ctx, store.ShortestPathWorkKey, "a"))

	nodeTypeOf := map[string]string{"a": "pop", "b": "pop", "c": "dest"}
	g2 := BuildGraph(vertices, []graphio.EdgeLink{
		{A: "a", B: "b", Latency: []float64{1}},
		{A: "b", B: "c", Latency: []float64{1}},
	}, func(id string) string { return nodeTypeOf[id] }, g.ASN)

	require.NoError(t, RunWorkers(ctx, s, g2, 2, zap.NewNop()))

	members, err := s.SMembers(ctx, store.UsedNodesKey)
	require.NoError(t, err)
	require.Contains(t, members, "a")
	require.Contains(t, members, "c")
}

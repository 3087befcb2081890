package overlay

import (
	"context"
	"strings"
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

func TestAttachASNEndpoints_DistributesProportionally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SAdd(ctx, store.ASNPoPsKey("65000"), "1"))
	require.NoError(t, s.SAdd(ctx, store.IntralinkKey("1"), "1.0", "2.0"))

	vertices := graphio.NewVertexList()
	var edges []graphio.EdgeLink
	rows := []ASNAttachRow{{ASN: "65000", Number: 1}}

	res, err := AttachASNEndpoints(ctx, s, vertices, &edges, rows, 4, "client", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 4, res.Attached)
	require.Equal(t, 4, vertices.Len())
	require.Len(t, edges, 4)
}

func TestAttachASNEndpoints_NoneAttachable(t *testing.T) {
	s := newTestStore(t)
	vertices := graphio.NewVertexList()
	var edges []graphio.EdgeLink
	rows := []ASNAttachRow{{ASN: "65000", Number: 1}}

	res, err := AttachASNEndpoints(context.Background(), s, vertices, &edges, rows, 4, "client", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 0, res.Attached)
}

func TestParseAlexaDestinations(t *testing.T) {
	dests, err := ParseAlexaDestinations(strings.NewReader("google.com 8.8.8.8\nexample.com 1.2.3.4\n"))
	require.NoError(t, err)
	require.Len(t, dests, 2)
	require.Equal(t, "google.com", dests[0].URL)
	require.Equal(t, "8.8.8.8", dests[0].IP)
}

func TestAttachDestinations_SkipsUnmatchedIP(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.HSet(ctx, store.IPKey("8.8.8.8"), map[string]string{"pop": "1"}))
	require.NoError(t, s.SAdd(ctx, store.PoPListKey, "1"))

	vertices := graphio.NewVertexList()
	var edges []graphio.EdgeLink
	dests := []AlexaDestination{{URL: "google.com", IP: "8.8.8.8"}, {URL: "unmapped.com", IP: "9.9.9.9"}}

	res, err := AttachDestinations(ctx, s, vertices, &edges, dests, 10, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, res.Attached)
	require.True(t, vertices.Has("dest_8_8_8_8"))
}

func TestAttachRelays_SkipsWhenPopNotInGraph(t *testing.T) {
	s := newTestStore(t)
	vertices := graphio.NewVertexList()
	var edges []graphio.EdgeLink
	relays := []Relay{{RelayIP: "10.0.0.1", Pop: "1"}}

	stats, err := AttachRelays(context.Background(), s, vertices, &edges, relays, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Attached)
	require.Equal(t, 1, stats.Unattachable)
}

func TestAttachRelays_AttachesAndDefaultsLatency(t *testing.T) {
	s := newTestStore(t)
	vertices := graphio.NewVertexList()
	require.NoError(t, vertices.AddVertex("1", map[string]string{"nodetype": "pop"}))
	var edges []graphio.EdgeLink
	relays := []Relay{{RelayIP: "10.0.0.1", Pop: "1"}}

	stats, err := AttachRelays(context.Background(), s, vertices, &edges, relays, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Attached)
	require.Equal(t, 1, stats.LatencyDefaulted)
	require.Len(t, edges, 1)
}

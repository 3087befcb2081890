package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/config"
	"github.com/netgraph/popmapper/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client)
	return New(s, &config.Config{}, zap.NewNop()), s
}

func writeTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseTrace_IngestsLinkPairs(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	trace := "# traceroute from 1.2.3.1 to 1.2.3.9\n" +
		"1 8.8.8.1 10.0 ms\n" +
		"2 8.8.8.2 12.0 ms\n" +
		"3 8.8.8.3 15.0 ms\n"
	path := writeTempFile(t, "trace.txt", trace)

	require.NoError(t, p.ParseTrace(ctx, path, nil, false))

	depth, err := s.LLen(ctx, store.UnassignedLinksKey)
	require.NoError(t, err)
	require.Greater(t, depth, int64(0))
}

func TestParseTrace_DumpDoesNotIngest(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	trace := "# traceroute from 1.2.3.1 to 1.2.3.9\n" +
		"1 8.8.8.1 10.0 ms\n" +
		"2 8.8.8.2 12.0 ms\n"
	path := writeTempFile(t, "trace.txt", trace)

	require.NoError(t, p.ParseTrace(ctx, path, nil, true))

	depth, err := s.LLen(ctx, store.UnassignedLinksKey)
	require.NoError(t, err)
	require.Equal(t, int64(0), depth)
}

func TestLoadIPData_LoadsInlineRecords(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	path := writeTempFile(t, "attrs.txt", "10.0.0.1 asn 64500\n10.0.0.2 asn 64501\n")
	stats, err := p.LoadIPData(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Loaded)

	asn, ok, err := s.HGet(ctx, store.IPKey("10.0.0.1"), "asn")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "64500", asn)
}

func TestLoadPeeringData_MarksLoaded(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	path := writeTempFile(t, "peering.jsonl",
		`{"asn1":"100","asn2":"200","relationship":1}`+"\n")
	stats, err := p.LoadPeeringData(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Loaded)

	loaded, ok, err := s.Get(ctx, store.ASPeeringLoadedKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", loaded)
}

func TestAssignPops_ResetClearsPopState(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, store.PoPListKey, "1"))
	require.NoError(t, s.Set(ctx, store.PoPASNKey("1"), "64500"))
	require.NoError(t, s.Incr(ctx, store.PoPIncrKey))

	require.NoError(t, p.AssignPops(ctx, nil, true, false))

	card, err := s.SCard(ctx, store.PoPListKey)
	require.NoError(t, err)
	require.Equal(t, int64(0), card)

	_, ok, err := s.Get(ctx, store.PoPIncrKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessJoins_RefusesWhenFailuresPending(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.RPush(ctx, store.UnassignedLinkFailsKey, "ip:10.0.0.1:10.0.0.2"))

	_, err := p.ProcessJoins(ctx, "")
	require.Error(t, err)
}

func TestProcessJoins_WritesLogFileWhenJoinsHappen(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, store.PoPListKey, "1", "2"))
	require.NoError(t, s.SAdd(ctx, store.PoPMembersKey("2"), "10.0.0.2"))
	require.NoError(t, s.RPush(ctx, store.PoPJoinsKey, `{"new":"1","old":"2"}`))

	logPath := filepath.Join(t.TempDir(), "joins.log")
	result, err := p.ProcessJoins(ctx, logPath)
	require.NoError(t, err)
	require.Equal(t, 1, result.Joined)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "joined=1")
}

func TestCleanup_RemovesTransientKeysButKeepsIPLinksByDefault(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, store.IPKey("10.0.0.1"), map[string]string{"pop": "1", "asn": "64500"}))
	require.NoError(t, s.SAdd(ctx, store.IPListKey, "10.0.0.1"))
	require.NoError(t, s.Set(ctx, store.PoPASNKey("1"), "64500"))
	linkKey := store.DelayKey("10.0.0.1", "10.0.0.2")
	require.NoError(t, s.SAdd(ctx, linkKey, "1.5"))

	require.NoError(t, p.Cleanup(ctx, false))

	_, ok, err := s.HGet(ctx, store.IPKey("10.0.0.1"), "pop")
	require.NoError(t, err)
	require.False(t, ok)

	exists, err := s.Exists(ctx, linkKey)
	require.NoError(t, err)
	require.True(t, exists, "ip links should survive cleanup unless --ip_links is set")
}

func TestCleanup_RemovesIPLinksWhenRequested(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	linkKey := store.DelayKey("10.0.0.1", "10.0.0.2")
	require.NoError(t, s.SAdd(ctx, linkKey, "1.5"))
	require.NoError(t, s.RPush(ctx, store.UnassignedLinksKey, "x"))

	require.NoError(t, p.Cleanup(ctx, true))

	exists, err := s.Exists(ctx, linkKey)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGraphCreate_ProducesReducedTopologyFiles(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, store.PoPASNKey("1"), "64500"))
	require.NoError(t, s.Set(ctx, store.PoPASNKey("2"), "64501"))
	require.NoError(t, s.SAdd(ctx, store.InterlinkKey("1", "2"), "5.0", "6.0", "7.0"))

	prefix := filepath.Join(t.TempDir(), "out")
	err := p.GraphCreate(ctx, GraphCreateOptions{SavePrefix: prefix, WorkerCount: 1})
	require.NoError(t, err)

	_, err = os.Stat(prefix + ".intermediate.graphml")
	require.NoError(t, err)
	_, err = os.Stat(prefix + ".graphml")
	require.NoError(t, err)
	_, err = os.Stat(prefix + ".vertices.txt")
	require.NoError(t, err)
}

func TestGraphCleanup_RemovesWorkKeys(t *testing.T) {
	p, s := newTestPipeline(t)
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, store.UsedNodesKey, "1"))
	require.NoError(t, s.SAdd(ctx, store.ShortestPathWorkKey, "1"))
	require.NoError(t, s.Set(ctx, store.CollapsedLinkKey("links:inter:1:2"), "5.0"))

	require.NoError(t, p.GraphCleanup(ctx))

	exists, err := s.Exists(ctx, store.UsedNodesKey)
	require.NoError(t, err)
	require.False(t, exists)
}

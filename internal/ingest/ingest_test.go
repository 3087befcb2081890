package ingest

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/store"
	"github.com/netgraph/popmapper/internal/trace"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return store.NewRedisStoreFromClient(client)
}

func TestLoadLinkPairs_QueuesNewLinkOnce(t *testing.T) {
	s := newTestStore(t)
	li := New(s, zap.NewNop())
	ctx := context.Background()

	links := []trace.Link{
		{IP1: "10.0.0.1", IP2: "10.0.0.2", Delay: 1.5},
		{IP1: "10.0.0.1", IP2: "10.0.0.2", Delay: 2.0},
	}
	require.NoError(t, li.LoadLinkPairs(ctx, links))

	depth, err := s.LLen(ctx, store.UnassignedLinksKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth, "second sample for the same link must not re-queue it")

	key := store.DelayKey("10.0.0.1", "10.0.0.2")
	card, err := s.SCard(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(2), card)
}

func TestLoadLinkPairs_RejectsSelfLink(t *testing.T) {
	s := newTestStore(t)
	li := New(s, zap.NewNop())
	err := li.LoadLinkPairs(context.Background(), []trace.Link{
		{IP1: "10.0.0.1", IP2: "10.0.0.1", Delay: 1.0},
	})
	require.Error(t, err)
}

type fakeGate struct {
	locked bool
	waited bool
}

func (g *fakeGate) IsLocked(ctx context.Context) (bool, error) { return g.locked, nil }
func (g *fakeGate) Wait(ctx context.Context) error             { g.waited = true; return nil }

func TestWaitForJoinGate_SkipsWhenUnlocked(t *testing.T) {
	s := newTestStore(t)
	li := New(s, zap.NewNop())
	gate := &fakeGate{locked: false}
	require.NoError(t, li.WaitForJoinGate(context.Background(), gate))
	require.False(t, gate.waited)
}

func TestWaitForJoinGate_WaitsWhenLocked(t *testing.T) {
	s := newTestStore(t)
	li := New(s, zap.NewNop())
	gate := &fakeGate{locked: true}
	require.NoError(t, li.WaitForJoinGate(context.Background(), gate))
	require.True(t, gate.waited)
}

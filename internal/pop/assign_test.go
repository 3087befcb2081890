package pop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/store"
)

func seedLink(t *testing.T, s store.Store, ip1, ip2, asn1, asn2 string, delay string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.HSet(ctx, store.IPKey(ip1), map[string]string{"asn": asn1}))
	require.NoError(t, s.HSet(ctx, store.IPKey(ip2), map[string]string{"asn": asn2}))
	require.NoError(t, s.SAdd(ctx, store.DelayKey(ip1, ip2), delay))
	require.NoError(t, s.RPush(ctx, store.UnassignedLinksKey, store.DelayKey(ip1, ip2)))
}

func TestAssignNext_BothUnassignedClusterable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "10.0.0.1", "10.0.1.1", "65000", "65000", "1.0")

	a := NewAssigner(s, nil, zap.NewNop(), DefaultAssignerOptions())
	ok, err := a.AssignNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	pop1, has1, err := GetPop(ctx, s, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, has1)
	pop2, has2, err := GetPop(ctx, s, "10.0.1.1")
	require.NoError(t, err)
	require.True(t, has2)
	require.Equal(t, pop1, pop2, "close same-ASN same-subnet hops should share a PoP")
}

func TestAssignNext_DifferentASNNotClusterable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLink(t, s, "10.0.0.1", "10.0.1.2", "65000", "65001", "1.0")

	a := NewAssigner(s, nil, zap.NewNop(), DefaultAssignerOptions())
	ok, err := a.AssignNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	pop1, _, err := GetPop(ctx, s, "10.0.0.1")
	require.NoError(t, err)
	pop2, _, err := GetPop(ctx, s, "10.0.1.2")
	require.NoError(t, err)
	require.NotEqual(t, pop1, pop2, "different ASNs must never be clustered into the same PoP")
}

func TestAssignNext_QueueEmpty(t *testing.T) {
	s := newTestStore(t)
	a := NewAssigner(s, nil, zap.NewNop(), DefaultAssignerOptions())
	ok, err := a.AssignNext(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAssignNext_BothAssignedDifferentPopsClusterableQueuesJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, store.IPKey("10.0.0.1"), map[string]string{"asn": "65000"}))
	require.NoError(t, s.HSet(ctx, store.IPKey("10.0.1.1"), map[string]string{"asn": "65000"}))
	pop1, err := SetPopNumber(ctx, s, "10.0.0.1", nil)
	require.NoError(t, err)
	pop2, err := SetPopNumber(ctx, s, "10.0.1.1", nil)
	require.NoError(t, err)
	require.NotEqual(t, pop1, pop2)

	require.NoError(t, s.SAdd(ctx, store.DelayKey("10.0.0.1", "10.0.1.1"), "1.0"))
	require.NoError(t, s.RPush(ctx, store.UnassignedLinksKey, store.DelayKey("10.0.0.1", "10.0.1.1")))

	a := NewAssigner(s, nil, zap.NewNop(), DefaultAssignerOptions())
	ok, err := a.AssignNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	depth, err := s.LLen(ctx, store.PoPJoinsKey)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestProcessFailed_MovesToExhausted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.LPush(ctx, store.UnassignedLinkFailsKey, "ip:links:malformed"))

	a := NewAssigner(s, nil, zap.NewNop(), DefaultAssignerOptions())
	processed, exhausted, err := a.ProcessFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, 1, exhausted)

	depth, err := s.LLen(ctx, store.UnassignedLinkFails2Key)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}

func TestNumericLess(t *testing.T) {
	require.True(t, numericLess("2", "10"))
	require.False(t, numericLess("10", "2"))
	require.True(t, numericLess("a", "b"))
}

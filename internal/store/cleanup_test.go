package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/store"
)

func TestPipelinedDelete_ReportsExistedAndRemoves(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedisStoreFromClient(client)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "present", "1"))

	results, err := store.PipelinedDelete(ctx, s, zap.NewNop(), "present", "absent")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Existed)
	require.False(t, results[1].Existed)

	_, ok, err := s.Get(ctx, "present")
	require.NoError(t, err)
	require.False(t, ok)
}

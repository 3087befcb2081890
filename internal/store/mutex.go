package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// redisMutex adapts a redsync.Mutex to the store.Mutex contract. It backs
// the single-writer popjoin critical section of spec.md §5: every process
// racing to merge PoPs acquires the same named lock before touching the
// join queue.
type redisMutex struct {
	name   string
	client redis.UniversalClient
	rs     *redsync.Redsync
	mu     *redsync.Mutex
}

func newRedisMutex(client redis.UniversalClient, name string) *redisMutex {
	pool := redsyncgoredis.NewPool(client)
	rs := redsync.New(pool)
	mu := rs.NewMutex("mutex:"+name+":init",
		redsync.WithExpiry(30*time.Second),
		redsync.WithTries(1),
	)
	return &redisMutex{name: name, client: client, rs: rs, mu: mu}
}

func (m *redisMutex) Acquire(ctx context.Context) error {
	if err := m.mu.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return fmt.Errorf("acquire mutex %s: %w", m.name, ErrWatchConflict)
		}
		return fmt.Errorf("acquire mutex %s: %w", m.name, err)
	}
	return nil
}

func (m *redisMutex) Release(ctx context.Context) error {
	ok, err := m.mu.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release mutex %s: %w", m.name, err)
	}
	if !ok {
		return fmt.Errorf("release mutex %s: lock was not held", m.name)
	}
	return nil
}

// Wait polls the lock key until it is absent. It is used for the coarse
// "don't even try to parse the next trace while popjoin is locked" check
// in spec.md §5, which is advisory rather than a hard acquire/release
// cycle, mirroring process.py's busy-wait on popjoin.is_locked().
func (m *redisMutex) Wait(ctx context.Context) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		locked, err := m.IsLocked(ctx)
		if err != nil {
			return err
		}
		if !locked {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *redisMutex) IsLocked(ctx context.Context) (bool, error) {
	n, err := m.client.Exists(ctx, "mutex:"+m.name+":init").Result()
	if err != nil {
		return false, fmt.Errorf("checking mutex %s: %w", m.name, err)
	}
	return n > 0, nil
}

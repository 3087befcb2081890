// Package ingest loads parsed trace links into the store's unassigned-link
// work queue, grounded on inettopology_popmap/data/process.py's
// load_link_pairs.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/metrics"
	"github.com/netgraph/popmapper/internal/store"
	"github.com/netgraph/popmapper/internal/trace"
)

// LinkIngest writes link samples into the shared unassigned-link queue and
// per-link sample sets.
type LinkIngest struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *LinkIngest {
	return &LinkIngest{store: s, log: log.Named("ingest")}
}

// LoadLinkPairs pushes each link's delay key onto the unassigned-link
// queue the first time it's seen, then records the sample. Same-IP links
// are rejected as a caller bug, matching the original's hard assertion.
func (li *LinkIngest) LoadLinkPairs(ctx context.Context, links []trace.Link) error {
	for _, link := range links {
		if link.IP1 == link.IP2 {
			return fmt.Errorf("ingest: link has identical endpoints %q", link.IP1)
		}
		key := store.DelayKey(link.IP1, link.IP2)
		sample := fmt.Sprintf("%g", link.Delay)
		if err := li.store.EvalPushIfAbsent(ctx, store.UnassignedLinksKey, key, sample); err != nil {
			return fmt.Errorf("ingest: push-if-absent for %s: %w", key, err)
		}
		metrics.LinksIngestedTotal.WithLabelValues("parse").Inc()
	}
	return nil
}

// PopJoinGate is satisfied by store.Mutex; LinkIngest uses it to pause
// ingestion while a PoP merge is in flight, matching the original's
// per-trace "wait while popjoin is locked" check in process.parse.
type PopJoinGate interface {
	Wait(ctx context.Context) error
	IsLocked(ctx context.Context) (bool, error)
}

// WaitForJoinGate blocks while gate reports the popjoin mutex held. It is a
// no-op when the mutex is free, so callers can call it unconditionally
// between traces.
func (li *LinkIngest) WaitForJoinGate(ctx context.Context, gate PopJoinGate) error {
	locked, err := gate.IsLocked(ctx)
	if err != nil {
		return err
	}
	if !locked {
		return nil
	}
	li.log.Debug("waiting for popjoin lock")
	return gate.Wait(ctx)
}

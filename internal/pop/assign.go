package pop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/metrics"
	"github.com/netgraph/popmapper/internal/store"
	"github.com/netgraph/popmapper/internal/trace"
)

// joinRequest is the payload pushed onto the PoPJoinsKey queue whenever a
// link's endpoints are judged to belong to the same PoP but already belong
// to two distinct live PoPs. newPop absorbs oldPop.
type joinRequest struct {
	NewPop string `json:"new"`
	OldPop string `json:"old"`
}

// AssignerOptions tunes the clustering heuristic.
type AssignerOptions struct {
	// DelayThresholdMs is the maximum median link delay, in milliseconds,
	// below which two IPs are considered close enough to share a PoP.
	DelayThresholdMs float64
	// RetryBudget bounds how many times the CAS loop over a link's two IP
	// records may retry after a watch conflict before the link is given up
	// on for this pass and handed to the failures queue.
	RetryBudget int
}

func DefaultAssignerOptions() AssignerOptions {
	return AssignerOptions{DelayThresholdMs: 2.5, RetryBudget: 16}
}

// Assigner drains the unassigned-link queue, clustering each link's
// endpoints into PoPs by combined delay/ASN/subnet heuristics.
type Assigner struct {
	store  store.Store
	lookup CountryLookup
	log    *zap.Logger
	opts   AssignerOptions
}

func NewAssigner(s store.Store, lookup CountryLookup, log *zap.Logger, opts AssignerOptions) *Assigner {
	return &Assigner{store: s, lookup: lookup, log: log.Named("pop.assign"), opts: opts}
}

// AssignNext pops one link off the unassigned-link queue and assigns it.
// It returns ok=false when the queue is empty. Errors from this link are
// recorded on the failures list rather than returned, except for
// store-connectivity errors which propagate so the caller can back off.
func (a *Assigner) AssignNext(ctx context.Context) (ok bool, err error) {
	key, present, err := a.store.RPop(ctx, store.UnassignedLinksKey)
	if err != nil {
		return false, fmt.Errorf("pop: reading unassigned link queue: %w", err)
	}
	if !present {
		return false, nil
	}
	if err := a.assignKey(ctx, key); err != nil {
		a.log.Warn("link assignment failed, deferring to retry queue", zap.String("key", key), zap.Error(err))
		if pushErr := a.store.LPush(ctx, store.UnassignedLinkFailsKey, key); pushErr != nil {
			return true, pushErr
		}
	}
	return true, nil
}

// ProcessFailed replays every link on the failures list once each,
// matching --process_failed. Links that fail again this time are moved to
// the exhausted (fails2) queue instead of being retried forever.
func (a *Assigner) ProcessFailed(ctx context.Context) (processed, exhausted int, err error) {
	for {
		key, present, err := a.store.RPop(ctx, store.UnassignedLinkFailsKey)
		if err != nil {
			return processed, exhausted, err
		}
		if !present {
			return processed, exhausted, nil
		}
		processed++
		if err := a.assignKey(ctx, key); err != nil {
			exhausted++
			a.log.Error("link permanently unassignable", zap.String("key", key), zap.Error(err))
			if pushErr := a.store.LPush(ctx, store.UnassignedLinkFails2Key, key); pushErr != nil {
				return processed, exhausted, pushErr
			}
		}
	}
}

// assignKey decides and records the PoP(s) for one link's two endpoints.
// The read of each endpoint's current PoP assignment and the write that
// claims it are raced by every other goroutine draining the same unassigned
// link queue, so the whole decide-then-write step runs inside a
// Store.Watch transaction over both IP records; a conflicting concurrent
// write aborts the transaction and the attempt is retried up to
// opts.RetryBudget times before the link is given up on for this pass.
func (a *Assigner) assignKey(ctx context.Context, key string) error {
	ip1, ip2, ok := SplitDelayKey(key)
	if !ok {
		return fmt.Errorf("pop: malformed delay key %q", key)
	}

	delay, err := GetDelay(ctx, a.store, key)
	if err != nil {
		return err
	}
	samples, err := a.store.SMembers(ctx, key)
	if err != nil {
		return err
	}

	budget := a.opts.RetryBudget
	if budget <= 0 {
		budget = 1
	}

	var pop1, pop2 string
	var clusterable bool
	var watchErr error

	for attempt := 0; attempt < budget; attempt++ {
		watchErr = a.store.Watch(ctx, func(tx store.Pipeline) error {
			asn1, _, _ := a.store.HGet(ctx, store.IPKey(ip1), "asn")
			asn2, _, _ := a.store.HGet(ctx, store.IPKey(ip2), "asn")
			differentAS, asnKnown := trace.DifferentAS(asn1, asn2, false)
			sameSubnet := !trace.Different24(ip1, ip2, false)
			clusterable = delay <= a.opts.DelayThresholdMs && sameSubnet && !(asnKnown && differentAS)

			p1, has1, err := GetPop(ctx, a.store, ip1)
			if err != nil {
				return err
			}
			p2, has2, err := GetPop(ctx, a.store, ip2)
			if err != nil {
				return err
			}

			switch {
			case !has1 && !has2:
				pop1, pop2, err = a.claimBothUnassigned(ctx, tx, ip1, ip2, clusterable)
			case has1 && !has2:
				pop1 = p1
				pop2, err = a.claimOneUnassigned(ctx, tx, p1, ip2, clusterable)
			case !has1 && has2:
				pop2 = p2
				pop1, err = a.claimOneUnassigned(ctx, tx, p2, ip1, clusterable)
			default:
				pop1, pop2 = p1, p2
			}
			return err
		}, store.IPKey(ip1), store.IPKey(ip2))

		if watchErr == nil {
			break
		}
		if errors.Is(watchErr, store.ErrWatchConflict) {
			metrics.StoreWatchConflictsTotal.WithLabelValues("assign_pops").Inc()
			continue
		}
		return watchErr
	}
	if watchErr != nil {
		return fmt.Errorf("pop: exhausted retry budget (%d) claiming %s: %w", budget, key, watchErr)
	}

	pipe := a.store.Pipeline()
	StoreLink(pipe, samples, pop1, pop2)
	if err := pipe.Exec(ctx); err != nil {
		return err
	}

	if pop1 != pop2 && clusterable {
		return a.queueJoin(ctx, pop1, pop2)
	}
	return nil
}

// claimBothUnassigned mints PoP id(s) for two IPs that currently have none,
// sharing one id between them when clusterable, queuing every ip-record
// write onto tx so it commits as part of the enclosing watch transaction.
func (a *Assigner) claimBothUnassigned(ctx context.Context, tx store.Pipeline, ip1, ip2 string, clusterable bool) (pop1, pop2 string, err error) {
	pop1, err = setPopNumber(ctx, a.store, tx, ip1, a.lookup)
	if err != nil {
		return "", "", err
	}
	metrics.PoPsAssignedTotal.WithLabelValues().Inc()

	pop2 = pop1
	if !clusterable {
		pop2, err = setPopNumber(ctx, a.store, tx, ip2, a.lookup)
		if err != nil {
			return "", "", err
		}
		metrics.PoPsAssignedTotal.WithLabelValues().Inc()
	} else {
		addMemberTx(tx, pop1, ip2)
	}
	return pop1, pop2, nil
}

// claimOneUnassigned assigns newIP into existingPop when clusterable, or
// mints a fresh PoP for it otherwise, queuing the ip-record write onto tx.
func (a *Assigner) claimOneUnassigned(ctx context.Context, tx store.Pipeline, existingPop, newIP string, clusterable bool) (string, error) {
	if clusterable {
		addMemberTx(tx, existingPop, newIP)
		return existingPop, nil
	}
	pop, err := setPopNumber(ctx, a.store, tx, newIP, a.lookup)
	if err != nil {
		return "", err
	}
	metrics.PoPsAssignedTotal.WithLabelValues().Inc()
	return pop, nil
}

// addMemberTx queues the writes that attach ip to pop as an existing
// member, without executing them, so the caller can commit them as part of
// a larger watched transaction.
func addMemberTx(tx store.Pipeline, pop, ip string) {
	tx.SAdd(store.PoPMembersKey(pop), ip)
	tx.HSet(store.IPKey(ip), map[string]string{"pop": pop})
}

// queueJoin enqueues a merge of oldPop into newPop, unless that exact pair
// has already been queued. The lower-numbered PoP id survives as newPop so
// repeated merges of the same cluster converge, matching the intent of
// descend_target_chain's union-find structure.
func (a *Assigner) queueJoin(ctx context.Context, pop1, pop2 string) error {
	newPop, oldPop := pop1, pop2
	if numericLess(pop2, pop1) {
		newPop, oldPop = pop2, pop1
	}

	pairKey := newPop + ":" + oldPop
	known, err := a.store.SIsMember(ctx, store.PoPJoinsKnownKey, pairKey)
	if err != nil {
		return err
	}
	if known {
		return nil
	}

	payload, err := json.Marshal(joinRequest{NewPop: newPop, OldPop: oldPop})
	if err != nil {
		return err
	}

	pipe := a.store.Pipeline()
	pipe.SAdd(store.PoPJoinsKnownKey, pairKey)
	pipe.RPush(store.PoPJoinsKey, string(payload))
	return pipe.Exec(ctx)
}

// numericLess compares two PoP ids as integers, since they are minted from
// a counter; falls back to lexicographic comparison if either isn't
// numeric.
func numericLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

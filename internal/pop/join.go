package pop

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/metrics"
	"github.com/netgraph/popmapper/internal/store"
)

// Joiner drains the PoP-join queue under the "popjoin" mutex, reducing
// transitive join chains before applying each merge. Grounded on
// process.py's process_delayed_joins/preprocess_joins/join_pops.
type Joiner struct {
	store store.Store
	log   *zap.Logger
}

func NewJoiner(s store.Store, log *zap.Logger) *Joiner {
	return &Joiner{store: s, log: log.Named("pop.join")}
}

// JoinResult summarizes one ProcessDelayedJoins run.
type JoinResult struct {
	Requested int
	Reduced   int
	Joined    int
	Errors    int
}

// ProcessDelayedJoins acquires the popjoin mutex, reduces the pending join
// list to its transitive closure, applies each merge, and clears the
// queue's bookkeeping keys on success. It refuses to run while links are
// still waiting on the failures list, matching the original's
// "run assign_pops --process_failed first" guard.
func (j *Joiner) ProcessDelayedJoins(ctx context.Context, mu store.Mutex) (JoinResult, error) {
	var res JoinResult

	pending, err := j.store.LLen(ctx, store.UnassignedLinkFailsKey)
	if err != nil {
		return res, err
	}
	if pending > 0 {
		return res, fmt.Errorf("pop: %d unassigned links pending; run assign_pops --process_failed first", pending)
	}

	if err := mu.Acquire(ctx); err != nil {
		return res, fmt.Errorf("pop: acquiring popjoin lock: %w", err)
	}
	defer mu.Release(ctx)

	raw, err := j.store.LRange(ctx, store.PoPJoinsKey, 0, -1)
	if err != nil {
		return res, err
	}
	res.Requested = len(raw)

	joins := make([]joinRequest, 0, len(raw))
	for _, r := range raw {
		var jr joinRequest
		if err := json.Unmarshal([]byte(r), &jr); err != nil {
			j.log.Warn("skipping malformed join request", zap.String("raw", r), zap.Error(err))
			continue
		}
		joins = append(joins, jr)
	}

	reduced, err := PreprocessJoins(joins)
	if err != nil {
		return res, err
	}
	res.Reduced = len(reduced)
	metrics.PoPJoinQueueDepth.WithLabelValues().Set(float64(len(reduced)))

	for _, jr := range reduced {
		if err := j.store.RPush(ctx, store.PoPJoinsInProcessKey, jr.OldPop); err != nil {
			return res, err
		}
		if err := JoinPops(ctx, j.store, jr.NewPop, jr.OldPop); err != nil {
			res.Errors++
			metrics.PoPJoinErrorsTotal.WithLabelValues("join_failed").Inc()
			j.log.Error("join failed", zap.String("new", jr.NewPop), zap.String("old", jr.OldPop), zap.Error(err))
			continue
		}
		res.Joined++
		metrics.PoPJoinsTotal.WithLabelValues().Inc()
	}

	if err := j.store.Delete(ctx, store.PoPJoinsKey, store.PoPJoinsInProcessKey); err != nil {
		return res, err
	}

	return res, nil
}

// PreprocessJoins reduces a raw join list to its transitive closure using
// the same union-find-by-pointer-map approach as process.py's
// preprocess_joins: every join's "new" (target) side is resolved to whatever
// it has transitively been redirected to, and the join is re-emitted with
// its original "old" side as part of a deduplicated join list.
func PreprocessJoins(joins []joinRequest) ([]joinRequest, error) {
	jm := make(map[string]string)

	resolve := func(node string) string {
		target := node
		seen := map[string]bool{}
		for {
			next, ok := jm[target]
			if !ok {
				break
			}
			seen[target] = true
			target = next
		}
		if len(seen) > 1 {
			for n := range seen {
				if n != target {
					jm[n] = target
				}
			}
		}
		return target
	}

	for _, jr := range joins {
		from := resolve(jr.OldPop)
		to := resolve(jr.NewPop)
		if from != to {
			jm[from] = to
		}
	}

	seen := make(map[[2]string]bool)
	var reduced []joinRequest
	for _, jr := range joins {
		newJoin := joinRequest{NewPop: resolve(jr.NewPop), OldPop: jr.OldPop}
		key := [2]string{newJoin.NewPop, newJoin.OldPop}
		if !seen[key] {
			seen[key] = true
			reduced = append(reduced, newJoin)
		}
	}
	return reduced, nil
}

// JoinPops merges oldPop into newPop: every inter-PoP link oldPop held is
// redirected (or, if it pointed at newPop, folded into an intralink),
// every intralink oldPop held moves to newPop, every member IP's pop
// pointer is updated, oldPop's country codes are unioned into newPop's,
// and oldPop's bookkeeping keys (including its now-empty country set) are
// deleted. Matches process.py's join_pops, plus the country-set union the
// collapse gate in linkdict.go depends on.
func JoinPops(ctx context.Context, s store.Store, newPop, oldPop string) error {
	if newPop == oldPop {
		return nil
	}
	isMember, err := s.SIsMember(ctx, store.PoPListKey, newPop)
	if err != nil {
		return err
	}
	if !isMember {
		return fmt.Errorf("pop: %s is not in the poplist", newPop)
	}

	members, err := s.SMembers(ctx, store.PoPMembersKey(oldPop))
	if err != nil {
		return err
	}
	popAS, _, err := s.Get(ctx, store.PoPASNKey(oldPop))
	if err != nil {
		return err
	}
	interlinks, err := s.SMembers(ctx, store.PoPNeighborsKey(oldPop))
	if err != nil {
		return err
	}
	oldCountries, err := s.SMembers(ctx, store.PoPCountriesKey(oldPop))
	if err != nil {
		return err
	}

	pipe := s.Pipeline()

	for _, connected := range interlinks {
		linkData, err := s.SMembers(ctx, store.InterlinkKey(connected, oldPop))
		if err != nil {
			return err
		}
		if len(linkData) == 0 {
			return fmt.Errorf("pop: link between %s and %s has no samples", connected, oldPop)
		}
		if connected == newPop {
			StoreLink(pipe, linkData, newPop, "")
		} else {
			StoreLink(pipe, linkData, newPop, connected)
		}
		pipe.Delete(store.InterlinkKey(connected, oldPop))
		pipe.SRem(store.PoPNeighborsKey(connected), oldPop)
	}

	intralinkData, err := s.SMembers(ctx, store.IntralinkKey(oldPop))
	if err != nil {
		return err
	}
	StoreLink(pipe, intralinkData, newPop, "")

	for _, member := range members {
		pipe.HSet(store.IPKey(member), map[string]string{"pop": newPop})
		pipe.SMove(store.PoPMembersKey(oldPop), store.PoPMembersKey(newPop), member)
	}

	if len(oldCountries) > 0 {
		pipe.SAdd(store.PoPCountriesKey(newPop), oldCountries...)
	}
	pipe.Delete(store.PoPCountriesKey(oldPop))

	pipe.Delete(store.PoPMembersKey(oldPop))
	pipe.Delete(store.PoPNeighborsKey(oldPop))
	pipe.Delete(store.IntralinkKey(oldPop))
	if popAS != "" {
		pipe.SRem(store.ASNPoPsKey(popAS), oldPop)
	}
	pipe.Delete(store.PoPASNKey(oldPop))
	pipe.SRem(store.PoPListKey, oldPop)

	pipe.Set(store.PoPJoinedKey(oldPop), newPop)
	pipe.RPush(store.JoinHistoryKey, fmt.Sprintf("%s => %s", oldPop, newPop))

	return pipe.Exec(ctx)
}

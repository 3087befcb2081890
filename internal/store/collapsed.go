package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// SetCollapsedLink records the combined latency decile distribution
// produced when a degree-two PoP is collapsed, so a later pass that finds
// the underlying raw samples already folded away can still recover the
// summary. Matches graph/objects.py's "graph:collapsed:<link>" fallback key.
func SetCollapsedLink(ctx context.Context, s Store, pop1, pop2 string, deciles []float64) error {
	payload, err := json.Marshal(deciles)
	if err != nil {
		return err
	}
	return s.Set(ctx, CollapsedLinkKey(InterlinkKey(pop1, pop2)), string(payload))
}

// GetCollapsedLink reads back a previously recorded collapsed-link decile
// distribution.
func GetCollapsedLink(ctx context.Context, s Store, pop1, pop2 string) ([]float64, error) {
	raw, ok, err := s.Get(ctx, CollapsedLinkKey(InterlinkKey(pop1, pop2)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("store: no collapsed link recorded for %s<->%s", pop1, pop2)
	}
	var deciles []float64
	if err := json.Unmarshal([]byte(raw), &deciles); err != nil {
		return nil, err
	}
	return deciles, nil
}

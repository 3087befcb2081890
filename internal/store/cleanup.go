package store

import (
	"context"

	"go.uber.org/zap"
)

// DeleteResult is the per-key outcome of a PipelinedDelete call: whether
// the key existed (and was therefore actually removed).
type DeleteResult struct {
	Key     string
	Existed bool
}

// PipelinedDelete checks each key's existence, removes all of them with a
// single Delete call, and logs the per-key outcome, matching
// data/cleanup.py's pipelined_delete in writing a line per key rather than
// a single aggregate line.
func PipelinedDelete(ctx context.Context, s Store, log *zap.Logger, keys ...string) ([]DeleteResult, error) {
	results := make([]DeleteResult, len(keys))
	for i, key := range keys {
		existed, err := s.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		results[i] = DeleteResult{Key: key, Existed: existed}
	}

	if err := s.Delete(ctx, keys...); err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Existed {
			log.Info("deleted key", zap.String("key", r.Key))
		} else {
			log.Debug("key already absent", zap.String("key", r.Key))
		}
	}
	return results, nil
}

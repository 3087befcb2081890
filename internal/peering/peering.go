// Package peering loads an AS-to-AS relationship database used by
// internal/valleyfree to validate that shortest paths are valley-free.
// spec.md's External Interfaces table lists an "optional AS peering
// database" input but the distilled spec does not name a loader; this
// package is the supplemented operation that actually populates it,
// grounded on the as:<asn>:peering hash layout internal/valleyfree reads
// (inettopology_popmap/graph/concurrent.py's relationship lookups).
package peering

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/store"
)

// Record is one JSON-lines entry in the peering database file:
// {"asn1": "100", "asn2": "200", "relationship": 1} where relationship is
// 1 (asn1 provides to asn2), -1 (asn1 is a customer of asn2), or 2/-2 (peers).
type Record struct {
	ASN1         string `json:"asn1"`
	ASN2         string `json:"asn2"`
	Relationship int    `json:"relationship"`
}

// Stats reports how many relationship records were loaded.
type Stats struct {
	Loaded  int
	Skipped int
}

// Loader writes AS peering records into the store and marks the database
// as loaded so internal/valleyfree.PeeringDataLoaded returns true.
type Loader struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Loader {
	return &Loader{store: s, log: log.Named("peering")}
}

// LoadFile parses the JSON-lines file at path and writes every record,
// then sets the "loaded" marker.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("peering: opening %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.Skipped++
			l.log.Warn("skipping malformed peering record", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if rec.ASN1 == "" || rec.ASN2 == "" {
			stats.Skipped++
			continue
		}

		if err := l.store.HSet(ctx, store.ASPeeringKey(rec.ASN1), map[string]string{
			rec.ASN2: strconv.Itoa(rec.Relationship),
		}); err != nil {
			return stats, fmt.Errorf("peering: writing relationship %s<->%s: %w", rec.ASN1, rec.ASN2, err)
		}
		stats.Loaded++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("peering: scanning input: %w", err)
	}

	if stats.Loaded > 0 {
		if err := l.store.Set(ctx, store.ASPeeringLoadedKey, "true"); err != nil {
			return stats, fmt.Errorf("peering: setting loaded marker: %w", err)
		}
	}
	return stats, nil
}

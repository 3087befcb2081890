// Package ipattrs loads an arbitrary per-IP attribute file into the
// store, grounded on inettopology_popmap/data/preprocess.py's
// load_attr_data. The file carries whatever fields the operator has on
// hand for each IP (ASN, country, owning organization, ...); this loader
// does not interpret them beyond parsing the two accepted layouts.
package ipattrs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/store"
)

// Stats reports how many IP records were loaded and how many lines were
// skipped for being malformed, mirroring the original's tolerant
// line-by-line error handling (log and continue rather than abort the
// whole file on one bad line).
type Stats struct {
	Loaded  int
	Skipped int
}

// Loader writes parsed attribute records onto ip:<IP> hashes.
type Loader struct {
	store store.Store
	log   *zap.Logger
}

func New(s store.Store, log *zap.Logger) *Loader {
	return &Loader{store: s, log: log.Named("ipattrs")}
}

// LoadFile parses path and writes every record it contains. Two input
// forms are accepted:
//
//	<ip> <key> <value> <key2> <value2> ...
//
// or, when the first line begins with "#":
//
//	# <key> <key2> ... <keyN>
//	<ip> <value> <value1> ... <valueN>
//
// The "pop" field is never set from this file; PoP assignment is driven
// exclusively by internal/pop.
func (l *Loader) LoadFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("ipattrs: opening %s: %w", path, err)
	}
	defer f.Close()
	return l.Load(ctx, f)
}

func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	var headerKeys []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if lineNo == 1 && fields[0] == "#" {
			headerKeys = fields[1:]
			continue
		}

		ip := fields[0]
		vals, err := parseRecord(fields, headerKeys)
		if err != nil {
			stats.Skipped++
			l.log.Warn("skipping malformed attribute line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if len(vals) == 0 {
			continue
		}

		if err := l.store.HSet(ctx, store.IPKey(ip), vals); err != nil {
			return stats, fmt.Errorf("ipattrs: writing attributes for %s: %w", ip, err)
		}
		if err := l.store.SAdd(ctx, store.IPListKey, ip); err != nil {
			return stats, fmt.Errorf("ipattrs: adding %s to iplist: %w", ip, err)
		}
		stats.Loaded++
		if stats.Loaded%10000 == 0 {
			l.log.Info("ip attribute load progress", zap.Int("loaded", stats.Loaded))
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("ipattrs: scanning input: %w", err)
	}
	return stats, nil
}

func parseRecord(fields, headerKeys []string) (map[string]string, error) {
	vals := make(map[string]string)
	if headerKeys != nil {
		rest := fields[1:]
		for i, key := range headerKeys {
			if i >= len(rest) {
				break
			}
			if key == "pop" {
				continue
			}
			vals[key] = rest[i]
		}
		return vals, nil
	}

	rest := fields[1:]
	if len(rest)%2 != 0 {
		return nil, fmt.Errorf("ipattrs: odd number of key/value fields")
	}
	for i := 0; i+1 < len(rest); i += 2 {
		key, val := rest[i], rest[i+1]
		if key == "pop" {
			continue
		}
		vals[key] = val
	}
	return vals, nil
}

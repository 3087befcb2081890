// Package overlay attaches client, relay, and destination endpoint nodes
// onto the reduced PoP graph so it reflects where real traffic actually
// enters and leaves the network. Grounded on
// inettopology_popmap/graph/core.py's add_asn_endpoints,
// add_alexa_destinations, and the relay-attachment block of
// load_from_redis.
package overlay

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/graphio"
	"github.com/netgraph/popmapper/internal/graphutil"
	"github.com/netgraph/popmapper/internal/pop"
	"github.com/netgraph/popmapper/internal/store"
)

// ASNAttachRow is one row of a pipe-delimited endpoint-weighting file:
// how many endpoints of a given type should be attached per ASN. Matches
// the 'Number'/'ASN' columns datautil.DataFile expects.
type ASNAttachRow struct {
	ASN    string `csv:"ASN"`
	Number int    `csv:"Number"`
}

// LoadASNAttachData reads a pipe-delimited endpoint-weighting file.
func LoadASNAttachData(path string) ([]ASNAttachRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = '|'
		return r
	})

	var rows []ASNAttachRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// AttachResult summarizes one attachment pass.
type AttachResult struct {
	Attached       int
	AttachmentPops int
}

// AttachASNEndpoints distributes count synthetic endpoint nodes of
// endpointType across the ASNs listed in rows, proportional to each row's
// Number weight, attaching each batch to that ASN's PoP. Matches
// graph/core.py's add_asn_endpoints.
func AttachASNEndpoints(ctx context.Context, s store.Store, vertices *graphio.VertexList, edges *[]graphio.EdgeLink, rows []ASNAttachRow, count int, endpointType string, log *zap.Logger) (AttachResult, error) {
	type attachment struct {
		pop    string
		number int
	}
	attach := make(map[string]attachment)
	for _, row := range rows {
		p, err := pop.FindPopForASN(ctx, s, row.ASN)
		if err != nil {
			var notKnown *pop.ErrASNNotKnown
			if errors.As(err, &notKnown) {
				continue
			}
			return AttachResult{}, err
		}
		attach[row.ASN] = attachment{pop: p, number: row.Number}
	}

	if len(attach) == 0 {
		log.Warn("no endpoints could be attached", zap.String("type", endpointType))
		return AttachResult{}, nil
	}

	total := 0
	for _, a := range attach {
		total += a.number
	}

	var counter int
	for asn, a := range attach {
		numToAttach := int(math.Round(float64(count) * (float64(a.number) / float64(total))))
		for j := 0; j < numToAttach; j++ {
			nodeID := fmt.Sprintf("%s_%s_%d", endpointType, asn, j)
			if err := vertices.AddVertex(nodeID, map[string]string{"nodetype": endpointType, "asn": asn}); err != nil {
				return AttachResult{}, err
			}

			deciles, err := intralinkDeciles(ctx, s, a.pop)
			if err != nil {
				return AttachResult{}, err
			}
			*edges = append(*edges, graphio.EdgeLink{A: nodeID, B: a.pop, Latency: deciles})
			counter++
		}
	}

	return AttachResult{Attached: counter, AttachmentPops: len(attach)}, nil
}

// AlexaDestination is one parsed "<url> <ip>" line from the top-destination
// list.
type AlexaDestination struct {
	URL string
	IP  string
}

// ParseAlexaDestinations reads whitespace-separated "url ip" lines.
func ParseAlexaDestinations(r io.Reader) ([]AlexaDestination, error) {
	var out []AlexaDestination
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		out = append(out, AlexaDestination{URL: fields[0], IP: fields[1]})
	}
	return out, sc.Err()
}

// AttachDestinations attaches up to count destination nodes drawn from
// dests, each wired to the PoP its IP already belongs to. Matches
// graph/core.py's add_alexa_destinations.
func AttachDestinations(ctx context.Context, s store.Store, vertices *graphio.VertexList, edges *[]graphio.EdgeLink, dests []AlexaDestination, count int, log *zap.Logger) (AttachResult, error) {
	attached := 0
	pops := make(map[string]struct{})

	for _, dest := range dests {
		if attached >= count {
			break
		}
		p, ok, err := pop.GetPop(ctx, s, dest.IP)
		if err != nil {
			return AttachResult{}, err
		}
		if !ok {
			log.Warn("couldn't attach destination, no matching IP found",
				zap.String("url", dest.URL), zap.String("ip", dest.IP))
			continue
		}

		nodeID := "dest_" + strings.ReplaceAll(dest.IP, ".", "_")
		if vertices.Has(nodeID) {
			continue
		}

		if err := vertices.AddVertex(nodeID, map[string]string{"nodetype": "dest", "url": dest.URL}); err != nil {
			return AttachResult{}, err
		}
		pops[p] = struct{}{}

		deciles, err := intralinkDeciles(ctx, s, p)
		if err != nil {
			return AttachResult{}, err
		}
		*edges = append(*edges, graphio.EdgeLink{A: nodeID, B: p, Latency: deciles})
		attached++
	}

	return AttachResult{Attached: attached, AttachmentPops: len(pops)}, nil
}

// Relay describes one overlay relay endpoint to attach, matching the
// client/relay data consumed by load_from_redis's relay block.
type Relay struct {
	RelayIP string
	Pop     string
	Extra   map[string]string
}

// RelayStats summarizes one AttachRelays run.
type RelayStats struct {
	Attached          int
	Unattachable      int
	LatencyDefaulted  int
	UnattachableRelay []string
}

// AttachRelays wires each relay to its already-known PoP, matching core.py's
// relay attachment block. A relay whose PoP is absent from the vertex list
// (trimmed or never existed) is skipped and counted as unattachable; a PoP
// with no intralink samples gets the default latency deciles.
func AttachRelays(ctx context.Context, s store.Store, vertices *graphio.VertexList, edges *[]graphio.EdgeLink, relays []Relay, log *zap.Logger) (RelayStats, error) {
	var stats RelayStats

	for _, relay := range relays {
		if !vertices.Has(relay.Pop) {
			stats.Unattachable++
			stats.UnattachableRelay = append(stats.UnattachableRelay, relay.RelayIP)
			log.Warn("relay's pop is not in the graph", zap.String("relay_ip", relay.RelayIP), zap.String("pop", relay.Pop))
			continue
		}

		attrs := map[string]string{"nodetype": "relay"}
		for k, v := range relay.Extra {
			attrs[k] = v
		}
		if err := vertices.AddVertex(relay.RelayIP, attrs); err != nil {
			return stats, err
		}

		deciles, err := intralinkDeciles(ctx, s, relay.Pop)
		if err != nil {
			return stats, err
		}
		samples, err := s.SCard(ctx, store.IntralinkKey(relay.Pop))
		if err != nil {
			return stats, err
		}
		if samples == 0 {
			deciles = graphutil.DefaultDeciles()
			stats.LatencyDefaulted++
		}
		*edges = append(*edges, graphio.EdgeLink{A: relay.RelayIP, B: relay.Pop, Latency: deciles})
		stats.Attached++
	}

	return stats, nil
}

func intralinkDeciles(ctx context.Context, s store.Store, p string) ([]float64, error) {
	samples, err := s.SMembers(ctx, store.IntralinkKey(p))
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return graphutil.DefaultDeciles(), nil
	}
	vals := make([]float64, 0, len(samples))
	for _, sample := range samples {
		var v float64
		if _, err := fmt.Sscanf(sample, "%g", &v); err == nil {
			vals = append(vals, v)
		}
	}
	deciles, err := graphutil.DecileTransform(vals)
	if err != nil {
		return graphutil.DefaultDeciles(), nil
	}
	return deciles, nil
}

// Package pipeline wires every stage into the sequence spec.md §5
// describes and drives the CLI subcommands documented there: load IP
// attributes and peering data, parse or preprocess traces, assign PoPs,
// process queued joins, clean up transient state, and finally create or
// clean up the reduced graph. Grounded on
// inettopology_popmap/data/process.py's command handlers and
// graph/core.py's create_graph.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/netgraph/popmapper/internal/asnlookup"
	"github.com/netgraph/popmapper/internal/config"
	"github.com/netgraph/popmapper/internal/graphio"
	"github.com/netgraph/popmapper/internal/ingest"
	"github.com/netgraph/popmapper/internal/ipattrs"
	"github.com/netgraph/popmapper/internal/linkdict"
	"github.com/netgraph/popmapper/internal/overlay"
	"github.com/netgraph/popmapper/internal/peering"
	"github.com/netgraph/popmapper/internal/pop"
	"github.com/netgraph/popmapper/internal/reporter"
	"github.com/netgraph/popmapper/internal/store"
	"github.com/netgraph/popmapper/internal/trace"
	"github.com/netgraph/popmapper/internal/valleyfree"
)

// Pipeline holds the store handle and config every stage shares.
type Pipeline struct {
	Store store.Store
	Cfg   *config.Config
	Log   *zap.Logger
}

func New(s store.Store, cfg *config.Config, log *zap.Logger) *Pipeline {
	return &Pipeline{Store: s, Cfg: cfg, Log: log.Named("pipeline")}
}

// ParseTrace runs the "process parse" command: parse a single CAIDA trace
// file, look up ASNs for every IP encountered, and ingest the derived
// link pairs. If dump is true, it only prints the IPs seen and ingests
// nothing, matching the original's "dump_ips" variant of the same command.
func (p *Pipeline) ParseTrace(ctx context.Context, tracePath string, lookup *asnlookup.Lookup, dump bool) error {
	f, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("pipeline: opening trace %s: %w", tracePath, err)
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return err
	}

	links, _, err := trace.Parse(lines)
	if err != nil {
		return fmt.Errorf("pipeline: parsing trace %s: %w", tracePath, err)
	}

	if dump {
		for ip := range tracedIPs(links) {
			fmt.Println(ip)
		}
		return nil
	}

	if lookup != nil {
		if err := p.lookupAndStoreASNs(ctx, tracedIPs(links), lookup); err != nil {
			return err
		}
	}

	li := ingest.New(p.Store, p.Log)
	if err := li.WaitForJoinGate(ctx, p.Store.Mutex("popjoin")); err != nil {
		return err
	}
	return li.LoadLinkPairs(ctx, links)
}

// PreprocessTraces runs "process preprocess_traces": splits every file
// matching glob into individual traces, looks up ASNs for every IP seen,
// but does not ingest link pairs yet (that happens in a later parse
// pass), matching the original's load_and_lookup_asns.
func (p *Pipeline) PreprocessTraces(ctx context.Context, glob string, lookup *asnlookup.Lookup) error {
	traces, err := trace.SplitTraces(glob)
	if err != nil {
		return fmt.Errorf("pipeline: splitting traces %s: %w", glob, err)
	}

	rep := reporter.New("preprocess_traces", len(traces), p.Log)
	defer rep.Finish()

	for _, lines := range traces {
		links, _, err := trace.Parse(lines)
		if err != nil {
			p.Log.Warn("skipping unparsable trace", zap.Error(err))
			rep.Add(1)
			continue
		}
		if lookup != nil {
			if err := p.lookupAndStoreASNs(ctx, tracedIPs(links), lookup); err != nil {
				return err
			}
		}
		rep.Add(1)
	}
	return nil
}

func (p *Pipeline) lookupAndStoreASNs(ctx context.Context, ips map[string]struct{}, lookup *asnlookup.Lookup) error {
	for ip := range ips {
		_, ok, err := p.Store.HGet(ctx, store.IPKey(ip), "asn")
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		asn, err := lookup.LookupASN(ip)
		if err != nil {
			p.Log.Warn("ASN lookup failed", zap.String("ip", ip), zap.Error(err))
			continue
		}
		if asn == "" {
			continue
		}
		if err := p.Store.HSet(ctx, store.IPKey(ip), map[string]string{"asn": asn}); err != nil {
			return err
		}
		if err := p.Store.SAdd(ctx, store.IPListKey, ip); err != nil {
			return err
		}
	}
	return nil
}

func tracedIPs(links []trace.Link) map[string]struct{} {
	ips := make(map[string]struct{})
	for _, l := range links {
		ips[l.IP1] = struct{}{}
		ips[l.IP2] = struct{}{}
	}
	return ips
}

func readLines(f *os.File) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "#")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// LoadIPData runs "process load_IP_data".
func (p *Pipeline) LoadIPData(ctx context.Context, path string) (ipattrs.Stats, error) {
	return ipattrs.New(p.Store, p.Log).LoadFile(ctx, path)
}

// LoadPeeringData runs the supplemented "process load_peering_data"
// command.
func (p *Pipeline) LoadPeeringData(ctx context.Context, path string) (peering.Stats, error) {
	return peering.New(p.Store, p.Log).LoadFile(ctx, path)
}

// AssignPops runs "process assign_pops [--reset|--process_failed]".
func (p *Pipeline) AssignPops(ctx context.Context, lookup pop.CountryLookup, reset, processFailed bool) error {
	a := pop.NewAssigner(p.Store, lookup, p.Log, pop.DefaultAssignerOptions())

	if reset {
		if err := p.resetAssignment(ctx); err != nil {
			return err
		}
	}

	if processFailed {
		processed, exhausted, err := a.ProcessFailed(ctx)
		if err != nil {
			return err
		}
		p.Log.Info("reprocessed failed links", zap.Int("processed", processed), zap.Int("exhausted", exhausted))
		return nil
	}

	count := 0
	for {
		ok, err := a.AssignNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		count++
		if count%10000 == 0 {
			p.Log.Info("assign_pops progress", zap.Int("assigned", count))
		}
	}
	p.Log.Info("assign_pops complete", zap.Int("assigned", count))
	return nil
}

func (p *Pipeline) resetAssignment(ctx context.Context) error {
	keys, err := p.Store.Keys(ctx, "pop:*")
	if err != nil {
		return err
	}
	keys = append(keys, store.PoPListKey, store.PoPIncrKey, store.UnassignedLinkFailsKey)
	_, err = store.PipelinedDelete(ctx, p.Store, p.Log, keys...)
	return err
}

// ProcessJoins runs "process process_joins [--log_joins PATH]".
func (p *Pipeline) ProcessJoins(ctx context.Context, logJoinsPath string) (pop.JoinResult, error) {
	j := pop.NewJoiner(p.Store, p.Log)
	result, err := j.ProcessDelayedJoins(ctx, p.Store.Mutex("popjoin"))
	if err != nil {
		return result, err
	}
	if logJoinsPath != "" && result.Joined > 0 {
		f, ferr := os.OpenFile(logJoinsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return result, fmt.Errorf("pipeline: opening join log %s: %w", logJoinsPath, ferr)
		}
		defer f.Close()
		fmt.Fprintf(f, "joined=%d reduced=%d errors=%d\n", result.Joined, result.Reduced, result.Errors)
	}
	return result, nil
}

// Cleanup runs "process cleanup [--ip_links]".
func (p *Pipeline) Cleanup(ctx context.Context, ipLinks bool) error {
	ips, err := p.Store.SMembers(ctx, store.IPListKey)
	if err != nil {
		return err
	}
	pipe := p.Store.Pipeline()
	for _, ip := range ips {
		pipe.HDel(store.IPKey(ip), "pop")
	}
	if err := pipe.Exec(ctx); err != nil {
		return err
	}

	for _, pattern := range []string{"links:*", "pop:*", "asn:*"} {
		keys, err := p.Store.Keys(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if _, err := store.PipelinedDelete(ctx, p.Store, p.Log, keys...); err != nil {
				return err
			}
		}
	}

	if ipLinks {
		keys, err := p.Store.Keys(ctx, "ip:links:*")
		if err != nil {
			return err
		}
		keys = append(keys, store.UnassignedLinksKey, store.UnassignedLinkFailsKey, "delayed_job:processed_links")
		if _, err := store.PipelinedDelete(ctx, p.Store, p.Log, keys...); err != nil {
			return err
		}
	}

	_, err = store.PipelinedDelete(ctx, p.Store, p.Log,
		store.PoPListKey, store.JoinHistoryKey, store.PoPJoinsKey, store.PoPJoinsInProcessKey,
		store.PoPJoinsKnownKey, store.PoPIncrKey, "mutex:popjoin:init")
	return err
}

// GraphCreateOptions configures one "graph create" run.
type GraphCreateOptions struct {
	SavePrefix       string
	NumClients       int
	ClientDataPath   string
	NumDestinations  int
	DestinationsPath string
	RelaysPath       string
	WriteDOT         bool
	WorkerCount      int
}

// GraphCreate runs "graph create": load the PoP graph from the store,
// trim and collapse it, attach overlay endpoints, run the valley-free
// worker pool, and write the reduced graph out. Matches
// graph/core.py's create_graph end-to-end.
func (p *Pipeline) GraphCreate(ctx context.Context, opts GraphCreateOptions) error {
	ld, err := linkdict.Load(ctx, p.Store, p.Log)
	if err != nil {
		return fmt.Errorf("pipeline: loading link graph: %w", err)
	}
	p.Log.Info("loaded pop graph", zap.Int("pops", ld.Len()))

	trimStats := ld.TrimDegreeOne(nil)
	p.Log.Info("trimmed degree-1 leaves", zap.Int("passes", trimStats.Passes), zap.Int("trimmed", trimStats.Trimmed))

	collapseStats, err := ld.CollapseDegreeTwo(ctx, linkdict.CollapseDeps{Store: p.Store}, nil)
	if err != nil {
		return fmt.Errorf("pipeline: collapsing degree-2 chains: %w", err)
	}
	p.Log.Info("collapsed degree-2 chains", zap.Int("passes", collapseStats.Passes), zap.Int("collapsed", collapseStats.Collapsed))

	vertices := graphio.NewVertexList()
	for _, popID := range ld.PoPs() {
		asn, _, err := p.Store.Get(ctx, store.PoPASNKey(popID))
		if err != nil {
			return err
		}
		if err := vertices.AddVertex(popID, map[string]string{"nodetype": "pop", "asn": asn}); err != nil {
			return err
		}
	}

	var edges []graphio.EdgeLink
	for _, popID := range ld.PoPs() {
		for _, n := range ld.Neighbors(popID) {
			if n <= popID {
				continue
			}
			deciles, err := edgeDeciles(ctx, p.Store, popID, n)
			if err != nil {
				return err
			}
			edges = append(edges, graphio.EdgeLink{A: popID, B: n, Latency: deciles})
		}
	}

	if err := p.attachOverlay(ctx, vertices, &edges, opts); err != nil {
		return err
	}

	if err := writeOutput(opts.SavePrefix+".intermediate.graphml", vertices, edges); err != nil {
		return err
	}

	typeOf := func(id string) string {
		v, ok := vertices.Attrs(id)
		if !ok {
			return ""
		}
		return v["nodetype"]
	}
	asnOfNode := func(id string) string {
		v, ok := vertices.Attrs(id)
		if !ok {
			return ""
		}
		return v["asn"]
	}

	g := valleyfree.BuildGraph(vertices, edges, typeOf, asnOfNode)

	protected := make(map[string]bool)
	for _, id := range vertices.IDs() {
		if t := typeOf(id); t == "relay" || t == "client" || t == "dest" {
			protected[id] = true
			if err := p.Store.SAdd(ctx, store.ShortestPathWorkKey, id); err != nil {
				return err
			}
		}
	}

	workers := opts.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	if err := valleyfree.RunWorkers(ctx, p.Store, g, workers, p.Log); err != nil {
		return fmt.Errorf("pipeline: valley-free worker pool: %w", err)
	}

	finalVertices, finalEdges, err := reduceToUsed(ctx, p.Store, vertices, edges)
	if err != nil {
		return err
	}

	if err := writeOutput(opts.SavePrefix+".graphml", finalVertices, finalEdges); err != nil {
		return err
	}
	if opts.WriteDOT {
		if err := writeDOTOutput(opts.SavePrefix+".dot", finalVertices, finalEdges); err != nil {
			p.Log.Warn("failed to write dot graph", zap.Error(err))
		}
	}

	return writeVertexList(opts.SavePrefix+".vertices.txt", finalVertices)
}

func (p *Pipeline) attachOverlay(ctx context.Context, vertices *graphio.VertexList, edges *[]graphio.EdgeLink, opts GraphCreateOptions) error {
	if opts.ClientDataPath != "" && opts.NumClients > 0 {
		rows, err := overlay.LoadASNAttachData(opts.ClientDataPath)
		if err != nil {
			return fmt.Errorf("pipeline: loading client data: %w", err)
		}
		if _, err := overlay.AttachASNEndpoints(ctx, p.Store, vertices, edges, rows, opts.NumClients, "client", p.Log); err != nil {
			return fmt.Errorf("pipeline: attaching clients: %w", err)
		}
	}

	if opts.DestinationsPath != "" && opts.NumDestinations > 0 {
		f, err := os.Open(opts.DestinationsPath)
		if err != nil {
			return fmt.Errorf("pipeline: opening destinations file: %w", err)
		}
		dests, err := overlay.ParseAlexaDestinations(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("pipeline: parsing destinations: %w", err)
		}
		if _, err := overlay.AttachDestinations(ctx, p.Store, vertices, edges, dests, opts.NumDestinations, p.Log); err != nil {
			return fmt.Errorf("pipeline: attaching destinations: %w", err)
		}
	}

	if opts.RelaysPath != "" {
		relays, err := loadRelays(opts.RelaysPath)
		if err != nil {
			return fmt.Errorf("pipeline: loading relays: %w", err)
		}
		if _, err := overlay.AttachRelays(ctx, p.Store, vertices, edges, relays, p.Log); err != nil {
			return fmt.Errorf("pipeline: attaching relays: %w", err)
		}
	}

	return nil
}

// GraphCleanup runs "graph cleanup": removes the collapsed-link and
// shortest-path work keys the graph create pass left behind.
func (p *Pipeline) GraphCleanup(ctx context.Context) error {
	keys, err := p.Store.Keys(ctx, "graph:collapsed:*")
	if err != nil {
		return err
	}
	keys = append(keys, store.UsedNodesKey, store.UsedPathsKey, store.ShortestPathWorkKey)
	_, err = store.PipelinedDelete(ctx, p.Store, p.Log, keys...)
	return err
}

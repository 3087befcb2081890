package valleyfree

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/netgraph/popmapper/internal/metrics"
	"github.com/netgraph/popmapper/internal/store"
)

// targetNodeTypes are the overlay node types a shortest path is worth
// keeping for, matching concurrent.py's membership check against
// ('relay', 'client', 'dest').
var targetNodeTypes = map[string]bool{"relay": true, "client": true, "dest": true}

// RunWorkers drains store.ShortestPathWorkKey with numWorkers concurrent
// goroutines, each computing single-source shortest paths from its target
// to every relay/client/destination node, validating (and repairing) the
// valley-free property of each, and recording the surviving nodes/edges
// into store.UsedNodesKey/UsedPathsKey. Matches graph/core.py's
// create_graph spawning graph/concurrent.py's thread_shortest_path across
// several worker processes; Go goroutines replace Python's
// multiprocessing.Process since there is no GIL to work around.
func RunWorkers(ctx context.Context, s store.Store, g *Graph, numWorkers int, log *zap.Logger) error {
	log = log.Named("valleyfree")
	errs := make(chan error, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			if err := runWorker(ctx, s, g, log.With(zap.Int("worker", workerID))); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func runWorker(ctx context.Context, s store.Store, g *Graph, log *zap.Logger) error {
	for {
		target, ok, err := s.SPop(ctx, store.ShortestPathWorkKey)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := processTarget(ctx, s, g, target, log); err != nil {
			log.Error("shortest-path processing failed", zap.String("target", target), zap.Error(err))
			return err
		}
	}
}

func processTarget(ctx context.Context, s store.Store, g *Graph, target string, log *zap.Logger) error {
	startID, ok := g.ID(target)
	if !ok {
		log.Warn("target not present in graph", zap.String("target", target))
		return nil
	}

	shortest := path.DijkstraFrom(simple.Node(startID), g.G)

	usedNodes := make(map[string]struct{})
	usedPaths := make(map[[2]string]struct{})

	nodeIter := g.G.Nodes()
	for nodeIter.Next() {
		otherID := nodeIter.Node().ID()
		other, ok := g.Node(otherID)
		if !ok || other == target {
			continue
		}
		if !targetNodeTypes[g.NodeType(other)] {
			continue
		}

		nodes, _ := shortest.To(otherID)
		if len(nodes) == 0 {
			continue
		}
		nodePath := make([]string, len(nodes))
		for i, n := range nodes {
			nodePath[i], _ = g.Node(n.ID())
		}

		unknown, total, err := CheckValleyFree(ctx, s, nodePath, g.ASN)
		outcome := "valley_free"
		if err == ErrNotValleyFree {
			repaired, errCount, rerr := ValleyFreePath(ctx, s, g, target, other)
			if rerr != nil {
				metrics.ValleyFreePathsTotal.WithLabelValues("unrepairable").Inc()
				log.Warn("couldn't produce valley-free path", zap.String("target", target), zap.String("dest", other))
				continue
			}
			nodePath = repaired
			outcome = "repaired"
			log.Debug("repaired non-valley-free path", zap.String("target", target), zap.String("dest", other), zap.Int("missing_links", errCount))
		} else if err != nil {
			return err
		} else if total > 0 {
			log.Debug("path was valley-free", zap.String("target", target), zap.String("dest", other), zap.Float64("missing_ratio", unknown/total))
		}
		metrics.ValleyFreePathsTotal.WithLabelValues(outcome).Inc()

		for _, n := range nodePath {
			usedNodes[n] = struct{}{}
		}
		for i := 0; i+1 < len(nodePath); i++ {
			usedPaths[[2]string{nodePath[i], nodePath[i+1]}] = struct{}{}
		}
	}

	pipe := s.Pipeline()
	for n := range usedNodes {
		pipe.SAdd(store.UsedNodesKey, n)
	}
	for p := range usedPaths {
		pipe.SAdd(store.UsedPathsKey, p[0]+"\x00"+p[1])
	}
	return pipe.Exec(ctx)
}

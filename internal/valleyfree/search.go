package valleyfree

import (
	"context"

	"github.com/emirpasic/gods/v2/queues/priorityqueue"

	"github.com/netgraph/popmapper/internal/store"
)

type pathCandidate struct {
	path          []string
	dist          float64
	enteredValley bool
	errCount      int
}

func candidateLess(a, b *pathCandidate) int {
	switch {
	case a.dist < b.dist:
		return -1
	case a.dist > b.dist:
		return 1
	default:
		return 0
	}
}

// ValleyFreePath performs a priority-first search for a valley-free path
// from start to target, truncating any branch the instant it would climb
// back through a provider after already descending through one. Matches
// graph/concurrent.py's valley_free_path, built over graph/pqueue.py's
// min-heap frontier.
func ValleyFreePath(ctx context.Context, s store.Store, g *Graph, start, target string) (path []string, errCount int, err error) {
	frontier := priorityqueue.NewWith(candidateLess)
	found := priorityqueue.NewWith(candidateLess)

	frontier.Enqueue(&pathCandidate{path: []string{start}})

	for !frontier.Empty() {
		item, ok := frontier.Dequeue()
		if !ok {
			break
		}
		last := item.path[len(item.path)-1]

		for _, neighbor := range g.Neighbors(last) {
			if contains(item.path, neighbor) {
				continue
			}

			enteredValley := item.enteredValley
			errc := item.errCount

			rel, known, err := GetRelationship(ctx, s, g.ASN(last), g.ASN(neighbor))
			if err != nil {
				return nil, 0, err
			}
			if !known {
				errc++
			} else if rel == RelationshipCustomer && enteredValley {
				continue
			} else if rel == RelationshipProvider {
				enteredValley = true
			}

			weight, _ := g.EdgeWeight(last, neighbor)
			newPath := append(append([]string{}, item.path...), neighbor)
			candidate := &pathCandidate{path: newPath, dist: item.dist + weight, enteredValley: enteredValley, errCount: errc}

			if neighbor == target {
				found.Enqueue(candidate)
				// Simplified early exit: the original compares the best found
				// path against every item still on the frontier before
				// stopping early. Peeking just the frontier's head is a
				// reasonable approximation since the frontier is itself a
				// min-heap by distance, but it is a deliberate simplification,
				// not an exact port.
				if bestFrontier, ok := frontier.Peek(); !ok || candidateLess(bestFrontier, candidate) >= 0 {
					if best, ok := found.Peek(); ok && best == candidate {
						return candidate.path, candidate.errCount, nil
					}
				}
			} else {
				frontier.Enqueue(candidate)
			}
		}
	}

	if best, ok := found.Dequeue(); ok {
		return best.path, best.errCount, nil
	}
	return nil, 0, ErrNotValleyFree
}

func contains(path []string, node string) bool {
	for _, p := range path {
		if p == node {
			return true
		}
	}
	return false
}

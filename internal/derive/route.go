package derive

import (
	"fmt"

	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/sharedstate"
)

// frontier is one partial chain explored by the route-assignment BFS.
type frontier struct {
	node       int
	entryBlock int // block already crossed to arrive at node; -1 at an origin source
	distance   int
	nodeChain  []int
	blockChain []int
}

// AssignRoute runs the multi-source BFS described in spec.md §4.4 and
// returns the block->Route(node,node) assignments along the winning
// chain. The search is seeded from origin only, which can depart via
// either of the up to two blocks it borders. Nodes whose effective
// state cell is currently true are impassable; nodes currently
// unlit are transparent and extend the chain without the BFS
// considering that a revisit.
func AssignRoute(a *model.Aerodrome, s *sharedstate.SharedState, origin, destination int) (map[int]model.BlockState, error) {
	if origin == destination {
		return nil, fmt.Errorf("derive: assign route: origin and destination are the same node")
	}

	// entryBlock -1 is the multi-source sentinel: the origin has not
	// arrived via any block, so the first expansion considers every
	// block it borders as a departure.
	queue := []frontier{{node: origin, entryBlock: -1, distance: 0, nodeChain: []int{origin}}}

	var best *frontier
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, b := range a.NodeBlocks(cur.node) {
			if b == cur.entryBlock {
				continue
			}
			blk := &a.Blocks[b]
			for _, m := range blk.Nodes {
				if m == cur.node || blk.HasNonRoute(cur.node, m) || chainContains(cur.nodeChain, m) {
					continue
				}

				if m == destination {
					next := frontier{
						node:       m,
						entryBlock: b,
						distance:   cur.distance + 1,
						nodeChain:  appendCopy(cur.nodeChain, m),
						blockChain: appendCopy(cur.blockChain, b),
					}
					if next.distance <= 1 {
						return chainToRoutes(next)
					}
					if best == nil || next.distance < best.distance {
						frozen := next
						best = &frozen
					}
					continue
				}

				// Passability is read from the node's effective state
				// cell, not from the active profile's NodeCondition: a
				// node whose profile condition is Fixed{true} but whose
				// cell is false is treated as transparent.
				if s.Nodes[m].Effective() {
					continue // lit: impassable dead end
				}

				// Unlit: transparent, explored depth-first, and extends
				// the chain without incrementing distance — only the hop
				// onto destination counts.
				next := frontier{
					node:       m,
					entryBlock: b,
					distance:   cur.distance,
					nodeChain:  appendCopy(cur.nodeChain, m),
					blockChain: appendCopy(cur.blockChain, b),
				}
				queue = append([]frontier{next}, queue...)
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("derive: no route from node %d to node %d", origin, destination)
	}
	return chainToRoutes(*best)
}

func chainContains(chain []int, n int) bool {
	for _, v := range chain {
		if v == n {
			return true
		}
	}
	return false
}

func appendCopy(s []int, v int) []int {
	out := make([]int, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

// chainToRoutes walks the winning chain and assigns Route(node,node)
// to each crossed block. Order is commutative (each block is set
// exactly once from its own hop), so there is no need to walk the
// chain in a particular direction.
func chainToRoutes(fr frontier) (map[int]model.BlockState, error) {
	seen := make(map[int]bool, len(fr.nodeChain))
	for _, n := range fr.nodeChain {
		if seen[n] {
			return nil, fmt.Errorf("derive: route chain revisits node %d", n)
		}
		seen[n] = true
	}

	out := make(map[int]model.BlockState, len(fr.blockChain))
	for i, b := range fr.blockChain {
		out[b] = model.RouteState(fr.nodeChain[i], fr.nodeChain[i+1])
	}
	return out, nil
}

// Package derive implements the lighting derivation engine: node and
// edge illumination resolved against the active profile and current
// SharedState, plus the route-candidate and route-assignment
// algorithms used by set_block/set_route (spec.md §4.4).
package derive

import (
	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/sharedstate"
)

// NodeIllumination derives whether node i is lit under the active
// profile and current shared state.
func NodeIllumination(a *model.Aerodrome, p *model.Profile, s *sharedstate.SharedState, i int) bool {
	if i < 0 || i >= len(p.Nodes) {
		return false
	}
	nc := p.Nodes[i]
	switch nc.Kind {
	case model.Fixed:
		return nc.Fixed
	case model.Direct:
		return s.Nodes[i].Effective()
	case model.Router:
		for _, b := range a.NodeBlocks(i) {
			bs := s.Blocks[b].Effective()
			switch bs.Kind {
			case model.Clear:
				return true
			case model.Route:
				if bs.A != i && bs.B != i {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// RouteCandidates returns the (a,b) node-index pairs a Route((ap,bp))
// block state could resolve to: the cartesian product of each
// endpoint's children (or the endpoint itself if childless), minus
// pairs listed in the block's non_routes.
func RouteCandidates(a *model.Aerodrome, block int, bs model.BlockState) [][2]int {
	if bs.Kind != model.Route {
		return nil
	}
	ac := a.Children(bs.A)
	if len(ac) == 0 {
		ac = []int{bs.A}
	}
	bc := a.Children(bs.B)
	if len(bc) == 0 {
		bc = []int{bs.B}
	}

	blk := &a.Blocks[block]
	var out [][2]int
	for _, x := range ac {
		for _, y := range bc {
			if blk.HasNonRoute(x, y) {
				continue
			}
			out = append(out, [2]int{x, y})
		}
	}
	return out
}

// EdgeIllumination derives whether edge e is lit under the active
// profile and current shared state.
func EdgeIllumination(a *model.Aerodrome, p *model.Profile, s *sharedstate.SharedState, e int) bool {
	if e < 0 || e >= len(p.Edges) {
		return false
	}
	ec := p.Edges[e]
	switch ec.Kind {
	case model.Fixed:
		return ec.Fixed
	case model.Direct:
		return !NodeIllumination(a, p, s, ec.DirectNode)
	case model.Router:
		bs := s.Blocks[ec.RouterBlock].Effective()
		switch bs.Kind {
		case model.Clear:
			return false
		case model.Relax:
			return true
		case model.Route:
			return edgeRouterIllumination(a, s, ec, bs)
		default:
			return false
		}
	default:
		return false
	}
}

func edgeRouterIllumination(a *model.Aerodrome, s *sharedstate.SharedState, ec model.EdgeCondition, bs model.BlockState) bool {
	candidates := RouteCandidates(a, ec.RouterBlock, bs)
	if len(candidates) == 0 {
		return false
	}
	if len(candidates) == 1 {
		return matchesAnyRoute(candidates[0], ec.RouterRoutes)
	}

	allowedA, forceFalseA := endpointRestriction(a, s, bs.A, ec.RouterBlock)
	allowedB, forceFalseB := endpointRestriction(a, s, bs.B, ec.RouterBlock)
	if forceFalseA || forceFalseB {
		return false
	}

	xs := map[int]bool{}
	ys := map[int]bool{}
	for _, c := range candidates {
		if allowedA != nil && !allowedA[c[0]] {
			continue
		}
		if allowedB != nil && !allowedB[c[1]] {
			continue
		}
		xs[c[0]] = true
		ys[c[1]] = true
	}
	if len(xs) == 0 || len(ys) == 0 {
		return false
	}

	routeValues := make(map[int]bool, len(ec.RouterRoutes)*2)
	for _, r := range ec.RouterRoutes {
		routeValues[r[0]] = true
		routeValues[r[1]] = true
	}
	for x := range xs {
		if !routeValues[x] {
			return false
		}
	}
	for y := range ys {
		if !routeValues[y] {
			return false
		}
	}
	return true
}

// endpointRestriction resolves the restriction the block adjacent to
// parent (other than currentBlock) places on that endpoint's candidate
// node-index set, per spec.md §4.4's restricted-propagation rule.
func endpointRestriction(a *model.Aerodrome, s *sharedstate.SharedState, parent, currentBlock int) (allowed map[int]bool, forceFalse bool) {
	adj, ok := a.AdjacentBlock(parent, currentBlock)
	if !ok {
		return nil, false
	}
	switch adjState := s.Blocks[adj].Effective(); adjState.Kind {
	case model.Clear:
		return nil, false
	case model.Relax:
		return map[int]bool{}, true
	case model.Route:
		other := adjState.B
		if adjState.A != parent {
			other = adjState.A
		}
		return map[int]bool{other: true}, false
	default:
		return nil, false
	}
}

func matchesAnyRoute(c [2]int, routes [][2]int) bool {
	for _, r := range routes {
		if (r[0] == c[0] && r[1] == c[1]) || (r[0] == c[1] && r[1] == c[0]) {
			return true
		}
	}
	return false
}

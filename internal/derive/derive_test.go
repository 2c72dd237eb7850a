package derive

import (
	"testing"

	"github.com/barsnet/stopbars/internal/model"
	"github.com/barsnet/stopbars/internal/sharedstate"
)

// buildLinear builds a three-node, two-block chain: N0 -- BK0 -- N1 -- BK1 -- N2.
func buildLinear() (*model.Aerodrome, *model.Profile) {
	a := &model.Aerodrome{
		Nodes: []model.Node{{ID: "N0"}, {ID: "N1"}, {ID: "N2"}},
		Blocks: []model.Block{
			{ID: "BK0", Nodes: []int{0, 1}},
			{ID: "BK1", Nodes: []int{1, 2}},
		},
	}
	a.BuildIndex()

	p := &model.Profile{
		ID: "default",
		Nodes: []model.NodeCondition{
			{Kind: model.Router},
			{Kind: model.Direct},
			{Kind: model.Router},
		},
		Edges: []model.EdgeCondition{
			{Kind: model.Router, RouterBlock: 0, RouterRoutes: [][2]int{{0, 1}}},
		},
	}
	return a, p
}

func TestNodeIlluminationRouterClear(t *testing.T) {
	a, p := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))

	if !NodeIllumination(a, p, s, 0) {
		t.Fatal("a router node bordering a Clear block should be lit")
	}
}

func TestNodeIlluminationRouterRouteExcludesSelf(t *testing.T) {
	a, p := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))
	s.Blocks[0].Confirm(model.RouteState(0, 1))

	if NodeIllumination(a, p, s, 0) {
		t.Fatal("a router node that is itself a route endpoint should not be lit by that block")
	}
	if NodeIllumination(a, p, s, 1) {
		t.Fatal("N1 is Direct and its state is unset: its state, not the Clear BK1, governs illumination")
	}
}

func TestRouteCandidatesIdentityWhenChildless(t *testing.T) {
	a, _ := buildLinear()
	cands := RouteCandidates(a, 0, model.RouteState(0, 1))
	if len(cands) != 1 || cands[0] != [2]int{0, 1} {
		t.Fatalf("RouteCandidates = %v, want identity pair [0 1]", cands)
	}
}

func TestRouteCandidatesExcludesNonRoutes(t *testing.T) {
	a, _ := buildLinear()
	a.Blocks[0].NonRoutes = [][2]int{{0, 1}}
	if cands := RouteCandidates(a, 0, model.RouteState(0, 1)); len(cands) != 0 {
		t.Fatalf("RouteCandidates = %v, want none (listed non-route)", cands)
	}
}

func TestEdgeIlluminationDirectInvertsNode(t *testing.T) {
	a, p := buildLinear()
	p.Edges = append(p.Edges, model.EdgeCondition{Kind: model.Direct, DirectNode: 1})
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))

	if !EdgeIllumination(a, p, s, 1) {
		t.Fatal("Direct edge should be lit while its node is unlit")
	}
	s.Nodes[1].Confirm(true)
	if EdgeIllumination(a, p, s, 1) {
		t.Fatal("Direct edge should invert its node's illumination")
	}
}

func TestEdgeIlluminationRouterSingleCandidate(t *testing.T) {
	a, p := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))
	s.Blocks[0].Confirm(model.RouteState(0, 1))

	if !EdgeIllumination(a, p, s, 0) {
		t.Fatal("sole candidate matches the declared route, edge should be lit")
	}
}

func TestEdgeIlluminationRouterClearIsDark(t *testing.T) {
	a, p := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))

	if EdgeIllumination(a, p, s, 0) {
		t.Fatal("a Clear block should never light a Router edge")
	}
}

func TestAssignRouteAdjacentIsOneHop(t *testing.T) {
	a, _ := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))

	routes, err := AssignRoute(a, s, 0, 1)
	if err != nil {
		t.Fatalf("AssignRoute: %v", err)
	}
	if !routes[0].SameRoute(0, 1) {
		t.Fatalf("routes[0] = %+v, want Route(0,1)", routes[0])
	}
}

func TestAssignRouteThroughTransparentNode(t *testing.T) {
	a, _ := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))
	// N1 is Direct and currently unlit (transparent) by default zero value.

	routes, err := AssignRoute(a, s, 0, 2)
	if err != nil {
		t.Fatalf("AssignRoute: %v", err)
	}
	if !routes[0].SameRoute(0, 1) || !routes[1].SameRoute(1, 2) {
		t.Fatalf("routes = %+v, want Route(0,1) and Route(1,2)", routes)
	}
}

func TestAssignRouteBlockedByLitNode(t *testing.T) {
	a, _ := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))
	s.Nodes[1].Confirm(true) // N1 lit: impassable

	if _, err := AssignRoute(a, s, 0, 2); err == nil {
		t.Fatal("expected no route through a lit (impassable) intermediate node")
	}
}

func TestAssignRouteSameNodeErrors(t *testing.T) {
	a, _ := buildLinear()
	s := sharedstate.New(len(a.Nodes), len(a.Blocks))
	if _, err := AssignRoute(a, s, 0, 0); err == nil {
		t.Fatal("expected an error when origin equals destination")
	}
}

package model

import (
	"bytes"
	"testing"
)

func sampleAerodrome() Aerodrome {
	a := Aerodrome{
		ICAO: "EGLL",
		Nodes: []Node{
			{ID: "A"},
			{ID: "F"},
			{ID: "B"},
			{ID: "F_CHILD", HasParent: true, Parent: 1},
		},
		Blocks: []Block{
			{ID: "BK1", Nodes: []int{0, 1}, NonRoutes: [][2]int{{0, 1}}},
			{ID: "BK2", Nodes: []int{1, 2}},
		},
		Profiles: []Profile{{ID: "default", Name: "Default"}},
	}
	a.BuildIndex()
	return a
}

func TestBuildIndexLookups(t *testing.T) {
	a := sampleAerodrome()

	if i, ok := a.NodeByID("B"); !ok || i != 2 {
		t.Fatalf("NodeByID(B) = %d, %v; want 2, true", i, ok)
	}
	if i, ok := a.BlockByID("BK2"); !ok || i != 1 {
		t.Fatalf("BlockByID(BK2) = %d, %v; want 1, true", i, ok)
	}
	if _, ok := a.NodeByID("missing"); ok {
		t.Fatal("NodeByID(missing) should not be found")
	}
}

func TestNodeBlocksAdjacency(t *testing.T) {
	a := sampleAerodrome()

	if got := a.NodeBlocks(1); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("NodeBlocks(F) = %v, want [0 1]", got)
	}
	adj, ok := a.AdjacentBlock(1, 0)
	if !ok || adj != 1 {
		t.Fatalf("AdjacentBlock(F, BK1) = %d, %v; want 1, true", adj, ok)
	}
	if _, ok := a.AdjacentBlock(0, 0); ok {
		t.Fatal("node A only borders one block, should have no adjacent block")
	}
}

func TestHasNonRoute(t *testing.T) {
	a := sampleAerodrome()
	blk := &a.Blocks[0]
	if !blk.HasNonRoute(0, 1) || !blk.HasNonRoute(1, 0) {
		t.Fatal("HasNonRoute should be order-insensitive")
	}
	if blk.HasNonRoute(0, 2) {
		t.Fatal("unrelated pair should not be a non-route")
	}
}

func TestChildren(t *testing.T) {
	a := sampleAerodrome()
	children := a.Children(1)
	if len(children) != 1 || children[0] != 3 {
		t.Fatalf("Children(F) = %v, want [3]", children)
	}
	if len(a.Children(0)) != 0 {
		t.Fatal("node A has no children")
	}
}

func TestPatchMerge(t *testing.T) {
	a := Patch{Nodes: map[string]bool{"n1": true, "n2": false}}
	b := Patch{Nodes: map[string]bool{"n2": true, "n3": true}}

	merged := Merge(a, b)
	want := map[string]bool{"n1": true, "n2": true, "n3": true}
	for k, v := range want {
		if merged.Nodes[k] != v {
			t.Errorf("merged.Nodes[%q] = %v, want %v", k, merged.Nodes[k], v)
		}
	}
}

func TestPatchIsEmpty(t *testing.T) {
	if !NewPatch().IsEmpty() {
		t.Fatal("a freshly constructed patch should be empty")
	}
	p := NewPatch()
	p.Nodes["n1"] = true
	if p.IsEmpty() {
		t.Fatal("a patch with a node assignment should not be empty")
	}
}

func TestBlockStateSameRoute(t *testing.T) {
	s := RouteState(1, 2)
	if !s.SameRoute(1, 2) || !s.SameRoute(2, 1) {
		t.Fatal("SameRoute should be order-insensitive")
	}
	if s.SameRoute(1, 3) {
		t.Fatal("different endpoint should not match")
	}
	if (BlockState{Kind: Clear}).SameRoute(1, 2) {
		t.Fatal("Clear state is never a route match")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	a := sampleAerodrome()
	cfg := &Config{Name: "test", Version: "1", Aerodromes: []Aerodrome{a}}

	var buf bytes.Buffer
	if err := Save(&buf, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != cfg.Name || len(got.Aerodromes) != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if i, ok := got.Aerodromes[0].NodeByID("B"); !ok || i != 2 {
		t.Fatal("decoded aerodrome should have rebuilt index tables")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a config file at all")))
	if err == nil {
		t.Fatal("expected an error for bad magic")
	}
}

func TestLoadRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.Write([]byte{0, 0})
	buf.Write(make([]byte, maxFrame+1))

	if _, err := Load(&buf); err == nil {
		t.Fatal("expected an error for an oversized payload")
	}
}

// Package model defines the static configuration data model (Aerodrome,
// Node, Edge, Block, Profile, Preset) and the Patch type used to
// replicate mutable state between controllers, per spec.md §3.
package model

// AllUnset is the Preset sentinel index meaning "all indices of this
// kind not already touched by this preset" (spec.md §3, §8).
const AllUnset = -1

// Aerodrome is an immutable, process-cached configuration for one
// airport, identified by ICAO code. It is never mutated after load;
// nodeIndex/blockIndex/profileIndex are reverse-lookup tables built
// once at load time (spec.md §9 "Indices as identity").
type Aerodrome struct {
	ICAO     string
	Nodes    []Node
	Edges    []Edge
	Blocks   []Block
	Profiles []Profile

	// Reverse-lookup and adjacency tables. Unexported so the gob codec
	// (which only encodes exported fields) never serializes them; they
	// are rebuilt by BuildIndex immediately after decode.
	nodeIndex    map[string]int
	blockIndex   map[string]int
	profileIndex map[string]int

	// nodeBlocks[i] lists the (up to two) block indices bordering node i.
	nodeBlocks [][]int
}

// Node is a topological vertex of the ground lighting graph.
type Node struct {
	ID         string
	Scratchpad string // empty means unset
	HasParent  bool
	Parent     int // valid only if HasParent; must reference a prior node index
}

// Edge is a visible arc/lamp. Its illumination rule lives per-profile
// in Profile.Edges, not on the Edge itself.
type Edge struct {
	ID string
}

// Block is a set of nodes sharing a boundary region for which a single
// BlockState applies.
type Block struct {
	ID string

	// Nodes lists node indices lying on the block's boundary, order
	// preserved, with multiplicity up to 2 per spec.md §3 invariant
	// ("each node belongs to at most 2 blocks").
	Nodes []int

	// NonRoutes lists unordered node-index pairs that must never be a
	// route within this block, precomputed by the config compiler.
	NonRoutes [][2]int
}

// HasNonRoute reports whether (a,b) (unordered) is listed as a non-route.
func (b *Block) HasNonRoute(a, c int) bool {
	for _, pair := range b.NonRoutes {
		if (pair[0] == a && pair[1] == c) || (pair[0] == c && pair[1] == a) {
			return true
		}
	}
	return false
}

// ConditionKind discriminates the Fixed/Direct/Router rule kinds shared
// by node and edge conditions (spec.md GLOSSARY).
type ConditionKind int

const (
	Fixed ConditionKind = iota
	Direct
	Router
)

// ResetKind discriminates a reset policy: none, or revert after N seconds.
type ResetKind int

const (
	ResetNone ResetKind = iota
	ResetTimeSecs
)

// ResetCondition governs whether a Direct node/edge or a block
// auto-reverts after a delay.
type ResetCondition struct {
	Kind ResetKind
	Secs uint32
}

// NodeCondition is a profile's rule for one node.
type NodeCondition struct {
	Kind  ConditionKind
	Fixed bool           // valid when Kind == Fixed
	Reset ResetCondition // valid when Kind == Direct
}

// EdgeCondition is a profile's rule for one edge.
type EdgeCondition struct {
	Kind ConditionKind

	Fixed bool // valid when Kind == Fixed

	DirectNode int // valid when Kind == Direct

	RouterBlock  int      // valid when Kind == Router
	RouterRoutes [][2]int // valid when Kind == Router: allowed (node_a, node_b) pairs
}

// BlockCondition is a profile's reset policy for one block.
type BlockCondition struct {
	Reset ResetCondition
}

// Profile is a named behavioral mode assigning condition kinds to
// nodes/edges/blocks and declaring named Presets.
type Profile struct {
	ID   string
	Name string

	Nodes  []NodeCondition
	Edges  []EdgeCondition
	Blocks []BlockCondition

	Presets []Preset
}

// Preset is a named bundle of node/block values applicable within a profile.
type Preset struct {
	Name string

	// Nodes/Blocks map index -> value. An index equal to AllUnset is the
	// sentinel meaning "every index of this kind not named by another
	// entry in this preset", regardless of entry order (spec.md §3, §8).
	Nodes  []PresetNode
	Blocks []PresetBlock
}

// PresetNode is one (index, value) entry of a Preset's node assignments.
type PresetNode struct {
	Index int
	Value bool
}

// PresetBlock is one (index, value) entry of a Preset's block assignments.
type PresetBlock struct {
	Index int
	Value BlockState
}

// BlockStateKind discriminates Clear/Relax/Route.
type BlockStateKind int

const (
	Clear BlockStateKind = iota
	Relax
	Route
)

// BlockState is the mutable posture of a Block.
type BlockState struct {
	Kind BlockStateKind `json:"kind"`
	// A, B are valid when Kind == Route; both must be members of the
	// block's Nodes (spec.md §3 invariant).
	A int `json:"a,omitempty"`
	B int `json:"b,omitempty"`
}

// RouteState constructs a Route(a,b) BlockState.
func RouteState(a, b int) BlockState {
	return BlockState{Kind: Route, A: a, B: b}
}

// SameRoute reports order-insensitive equality between two Route endpoints.
func (s BlockState) SameRoute(a, b int) bool {
	if s.Kind != Route {
		return false
	}
	return (s.A == a && s.B == b) || (s.A == b && s.B == a)
}

// SceneryObject is an out-of-band toggle, independent of node/block state.
type SceneryObject struct {
	ID    string `json:"id"`
	State bool   `json:"state"`
}

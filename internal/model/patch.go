package model

// Patch is a partial mutation of shared state: an optional profile
// change plus node/block assignments, keyed by stable id (not index) so
// it can be replicated before either side has necessarily indexed the
// same config revision (spec.md §3).
type Patch struct {
	ProfileID *string               `json:"profileId,omitempty"`
	Nodes     map[string]bool       `json:"nodes,omitempty"`
	Blocks    map[string]BlockState `json:"blocks,omitempty"`
}

// NewPatch returns an empty, ready-to-populate Patch.
func NewPatch() Patch {
	return Patch{
		Nodes:  make(map[string]bool),
		Blocks: make(map[string]BlockState),
	}
}

// IsEmpty reports whether the patch carries no mutation at all. Per
// spec.md §8, a Patch in this state MUST NOT be transmitted.
func (p Patch) IsEmpty() bool {
	return p.ProfileID == nil && len(p.Nodes) == 0 && len(p.Blocks) == 0
}

// Merge combines a and b with last-writer-wins semantics on key
// collision: b's entries win. This is the semantics referenced by
// spec.md §8's apply_patch(a); apply_patch(b) == apply_patch(merge(a,b))
// invariant.
func Merge(a, b Patch) Patch {
	out := Patch{
		Nodes:  make(map[string]bool, len(a.Nodes)+len(b.Nodes)),
		Blocks: make(map[string]BlockState, len(a.Blocks)+len(b.Blocks)),
	}
	for k, v := range a.Nodes {
		out.Nodes[k] = v
	}
	for k, v := range b.Nodes {
		out.Nodes[k] = v
	}
	for k, v := range a.Blocks {
		out.Blocks[k] = v
	}
	for k, v := range b.Blocks {
		out.Blocks[k] = v
	}
	out.ProfileID = a.ProfileID
	if b.ProfileID != nil {
		out.ProfileID = b.ProfileID
	}
	return out
}

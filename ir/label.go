package ir

import "fmt"

// Label is a handle into a label table owned by a Sequence or a graph.
// Labels carry no payload: two labels are the same label only when their
// handles are equal. The zero Label is never allocated.
type Label uint32

// NoLabel is the zero handle.
const NoLabel Label = 0

func (l Label) String() string {
	if l == NoLabel {
		return "L?"
	}
	return fmt.Sprintf("L%d", uint32(l))
}

func (Label) isElement() {}

// LabelArena allocates label handles. The table indexed by those handles
// lives with the owner of the arena.
type LabelArena struct {
	n uint32
}

// New allocates a fresh handle.
func (a *LabelArena) New() Label {
	a.n++
	return Label(a.n)
}

// Count returns how many handles have been allocated.
func (a *LabelArena) Count() int {
	return int(a.n)
}

// Owns reports whether l was allocated by this arena.
func (a *LabelArena) Owns(l Label) bool {
	return l != NoLabel && uint32(l) <= a.n
}

// Reserve makes sure handles up to n are considered allocated.
func (a *LabelArena) Reserve(n int) {
	if uint32(n) > a.n {
		a.n = uint32(n)
	}
}

package cfg

import (
	"fmt"

	"github.com/chazu/bcir/ir"
)

// Block is a basic block: a run of instructions of which only the last may
// transfer control. It falls through to Fallthrough() when its last
// instruction lets execution continue.
type Block struct {
	id     uint64
	instrs []ir.Instr
	next   *Block
	g      *Graph
}

// ID returns the block's identity, stable across edits and clones.
func (b *Block) ID() uint64 {
	return b.id
}

func (b *Block) String() string {
	return fmt.Sprintf("block %d", b.id)
}

// Graph returns the graph owning b, or nil once b has been removed.
func (b *Block) Graph() *Graph {
	return b.g
}

// Index returns b's position in graph order, or -1.
func (b *Block) Index() int {
	if b.g == nil {
		return -1
	}
	return b.g.index(b)
}

// Len returns the number of instructions.
func (b *Block) Len() int {
	return len(b.instrs)
}

// At returns the i-th instruction.
func (b *Block) At(i int) ir.Instr {
	return b.instrs[i]
}

// Instrs returns a copy of the instructions.
func (b *Block) Instrs() []ir.Instr {
	return append([]ir.Instr(nil), b.instrs...)
}

// Terminator returns the last instruction when it transfers control.
func (b *Block) Terminator() (ir.Instr, bool) {
	if len(b.instrs) == 0 || b.g == nil {
		return ir.Instr{}, false
	}
	last := b.instrs[len(b.instrs)-1]
	def, ok := b.g.Profile.Op(last.Op)
	if !ok || !def.Transfers() {
		return ir.Instr{}, false
	}
	return last, true
}

// FallsThrough reports whether execution can continue past the last
// instruction.
func (b *Block) FallsThrough() bool {
	if len(b.instrs) == 0 || b.g == nil {
		return true
	}
	def, ok := b.g.Profile.Op(b.instrs[len(b.instrs)-1].Op)
	return !ok || def.FallsThrough()
}

// Fallthrough returns the block executed after b when b falls through.
func (b *Block) Fallthrough() *Block {
	if !b.FallsThrough() {
		return nil
	}
	return b.next
}

// JumpTarget returns the block the terminator jumps to, or nil.
func (b *Block) JumpTarget() *Block {
	t, ok := b.Terminator()
	if !ok || !t.IsJump() {
		return nil
	}
	return b.g.Target(t.Arg.Label())
}

// edit replaces the instruction list after checking the block invariant.
// A block that no longer falls through loses its fallthrough successor.
func (b *Block) edit(instrs []ir.Instr) error {
	if b.g == nil {
		return ir.Errorf(ir.ErrMalformedGraph, "%s has been removed", b)
	}
	if err := b.g.checkInstrs(instrs); err != nil {
		return err
	}
	b.instrs = instrs
	if !b.FallsThrough() {
		b.next = nil
	}
	b.g.touch()
	return nil
}

// Append adds instructions at the end.
func (b *Block) Append(in ...ir.Instr) error {
	n := make([]ir.Instr, 0, len(b.instrs)+len(in))
	n = append(n, b.instrs...)
	return b.edit(append(n, in...))
}

// Insert adds instructions before position i.
func (b *Block) Insert(i int, in ...ir.Instr) error {
	if i < 0 || i > len(b.instrs) {
		return ir.Errorf(ir.ErrMalformedGraph, "insert position %d out of range [0,%d]", i, len(b.instrs))
	}
	n := make([]ir.Instr, 0, len(b.instrs)+len(in))
	n = append(n, b.instrs[:i]...)
	n = append(n, in...)
	return b.edit(append(n, b.instrs[i:]...))
}

// Remove deletes the i-th instruction.
func (b *Block) Remove(i int) error {
	if i < 0 || i >= len(b.instrs) {
		return ir.Errorf(ir.ErrMalformedGraph, "remove position %d out of range [0,%d)", i, len(b.instrs))
	}
	n := make([]ir.Instr, 0, len(b.instrs)-1)
	n = append(n, b.instrs[:i]...)
	return b.edit(append(n, b.instrs[i+1:]...))
}

// Replace overwrites the i-th instruction.
func (b *Block) Replace(i int, in ir.Instr) error {
	if i < 0 || i >= len(b.instrs) {
		return ir.Errorf(ir.ErrMalformedGraph, "replace position %d out of range [0,%d)", i, len(b.instrs))
	}
	n := append([]ir.Instr(nil), b.instrs...)
	n[i] = in
	return b.edit(n)
}

// Package cfg is the editing surface of bcir: a control-flow graph of basic
// blocks linked by explicit fallthrough edges and by labels resolved through
// a per-graph label table.
package cfg

import (
	"errors"
	"sync/atomic"

	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

// AutoStackSize in Header.MaxStack asks the assembler to compute the
// maximum stack depth.
const AutoStackSize = -1

// AutoDepth in ExceptionRange.Depth asks the assembler to compute the
// handler's stack depth from the blocks the range covers.
const AutoDepth = -1

// Header carries the container metadata kept alongside the code.
type Header struct {
	Flags    uint16
	MaxStack int
}

// ExceptionRange routes exceptions raised in blocks First through Last
// (inclusive, in graph order) to Handler. Only profiles with an exception
// table use ranges.
type ExceptionRange struct {
	First, Last *Block
	Handler     *Block
	Depth       int
	PushLasti   bool
}

// Graph is a control-flow graph. The first block is the entry. A Graph is
// owned by one goroutine at a time; it has no internal locking.
type Graph struct {
	Profile *format.Profile
	Header  Header

	blocks  []*Block
	labels  ir.LabelArena
	targets []*Block // indexed by label handle
	ranges  []*ExceptionRange
	nextID  uint64
	gen     atomic.Uint64
}

// NewGraph returns a graph holding a single empty entry block.
func NewGraph(p *format.Profile) *Graph {
	g := &Graph{
		Profile: p,
		Header:  Header{MaxStack: AutoStackSize},
		targets: make([]*Block, 1),
	}
	g.blocks = append(g.blocks, g.newBlock())
	return g
}

func (g *Graph) newBlock() *Block {
	g.nextID++
	return &Block{id: g.nextID, g: g}
}

func (g *Graph) touch() {
	g.gen.Add(1)
}

// Generation changes every time the graph is edited.
func (g *Graph) Generation() uint64 {
	return g.gen.Load()
}

// Entry returns the entry block.
func (g *Graph) Entry() *Block {
	return g.blocks[0]
}

// Len returns the number of blocks.
func (g *Graph) Len() int {
	return len(g.blocks)
}

// Block returns the i-th block in graph order.
func (g *Graph) Block(i int) *Block {
	return g.blocks[i]
}

// Blocks returns the blocks in graph order.
func (g *Graph) Blocks() []*Block {
	return append([]*Block(nil), g.blocks...)
}

func (g *Graph) index(b *Block) int {
	for i, x := range g.blocks {
		if x == b {
			return i
		}
	}
	return -1
}

func (g *Graph) owns(b *Block) bool {
	return b != nil && b.g == g && g.index(b) >= 0
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// NewLabel allocates an unbound label.
func (g *Graph) NewLabel() ir.Label {
	l := g.labels.New()
	g.targets = append(g.targets, nil)
	return l
}

// Target returns the block l is bound to, or nil.
func (g *Graph) Target(l ir.Label) *Block {
	if !g.labels.Owns(l) {
		return nil
	}
	return g.targets[l]
}

// LabelFor returns a label bound to b, allocating one if b has none.
func (g *Graph) LabelFor(b *Block) (ir.Label, error) {
	if !g.owns(b) {
		return ir.NoLabel, ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	for l := 1; l < len(g.targets); l++ {
		if g.targets[l] == b {
			return ir.Label(l), nil
		}
	}
	l := g.NewLabel()
	g.targets[l] = b
	g.touch()
	return l, nil
}

// Retarget binds l to b. Every jump using l now goes to b.
func (g *Graph) Retarget(l ir.Label, b *Block) error {
	if !g.labels.Owns(l) {
		return ir.Errorf(ir.ErrUnresolvedLabel, "%s does not belong to the graph", l)
	}
	if !g.owns(b) {
		return ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	g.targets[l] = b
	g.touch()
	return nil
}

func (g *Graph) reserveLabels(n int) {
	g.labels.Reserve(n)
	for len(g.targets) <= n {
		g.targets = append(g.targets, nil)
	}
}

// ---------------------------------------------------------------------------
// Block edits
// ---------------------------------------------------------------------------

// AddBlock appends a block holding instrs. A previous last block that falls
// through without a successor is linked to it.
func (g *Graph) AddBlock(instrs ...ir.Instr) (*Block, error) {
	if err := g.checkInstrs(instrs); err != nil {
		return nil, err
	}
	b := g.newBlock()
	b.instrs = append(b.instrs, instrs...)
	last := g.blocks[len(g.blocks)-1]
	if last.next == nil && last.FallsThrough() {
		last.next = b
	}
	g.blocks = append(g.blocks, b)
	g.touch()
	return b, nil
}

// InsertBlock inserts a block holding instrs at position at. When it falls
// through, its successor is the block previously at that position.
func (g *Graph) InsertBlock(at int, instrs ...ir.Instr) (*Block, error) {
	if at < 0 || at > len(g.blocks) {
		return nil, ir.Errorf(ir.ErrMalformedGraph, "insert position %d out of range [0,%d]", at, len(g.blocks))
	}
	if err := g.checkInstrs(instrs); err != nil {
		return nil, err
	}
	b := g.newBlock()
	b.instrs = append(b.instrs, instrs...)
	if at < len(g.blocks) && b.FallsThrough() {
		b.next = g.blocks[at]
	}
	g.blocks = append(g.blocks, nil)
	copy(g.blocks[at+1:], g.blocks[at:])
	g.blocks[at] = b
	g.touch()
	return b, nil
}

// RemoveBlock deletes b. It fails with ErrBlockInUse while b is a jump
// target, a fallthrough successor, an exception handler or a range bound.
// Labels bound to b become unbound.
func (g *Graph) RemoveBlock(b *Block) error {
	i := g.index(b)
	if i < 0 {
		return ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	if len(g.blocks) == 1 {
		return ir.Errorf(ir.ErrMalformedGraph, "cannot remove the only block")
	}
	if why := g.usedBy(b); why != "" {
		return ir.Errorf(ir.ErrBlockInUse, "block %d is %s", b.ID(), why)
	}
	for l := range g.targets {
		if g.targets[l] == b {
			g.targets[l] = nil
		}
	}
	g.blocks = append(g.blocks[:i], g.blocks[i+1:]...)
	b.g = nil
	g.touch()
	return nil
}

func (g *Graph) usedBy(b *Block) string {
	for _, x := range g.blocks {
		if x == b {
			continue
		}
		if x.next == b && x.FallsThrough() {
			return "the fallthrough successor of another block"
		}
		if t, ok := x.Terminator(); ok && t.IsJump() && g.Target(t.Arg.Label()) == b {
			return "a jump target"
		}
	}
	for _, r := range g.ranges {
		if r.Handler == b {
			return "an exception handler"
		}
		if r.First == b || r.Last == b {
			return "the bound of an exception range"
		}
	}
	return ""
}

// MoveBlock moves b to position to. Fallthrough edges are kept; the
// assembler adds jumps where a successor is no longer adjacent. Exception
// ranges cover blocks by position, so a block moved between the First and
// Last of a range becomes covered by it, and a block moved out of one is no
// longer covered.
func (g *Graph) MoveBlock(b *Block, to int) error {
	i := g.index(b)
	if i < 0 {
		return ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	if to < 0 || to >= len(g.blocks) {
		return ir.Errorf(ir.ErrMalformedGraph, "move position %d out of range [0,%d)", to, len(g.blocks))
	}
	g.blocks = append(g.blocks[:i], g.blocks[i+1:]...)
	g.blocks = append(g.blocks, nil)
	copy(g.blocks[to+1:], g.blocks[to:])
	g.blocks[to] = b
	g.touch()
	return nil
}

// SplitBlock splits b before instruction at and returns the block holding
// the tail. The tail inherits b's fallthrough successor and b falls through
// to it. Splitting at 0 returns b itself; splitting at the end returns b's
// successor when it has one.
func (g *Graph) SplitBlock(b *Block, at int) (*Block, error) {
	i := g.index(b)
	if i < 0 {
		return nil, ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	if at < 0 || at > len(b.instrs) {
		return nil, ir.Errorf(ir.ErrMalformedGraph, "split index %d out of range [0,%d]", at, len(b.instrs))
	}
	if at == 0 {
		return b, nil
	}
	if at == len(b.instrs) && b.next != nil {
		return b.next, nil
	}

	tail := g.newBlock()
	tail.instrs = append(tail.instrs, b.instrs[at:]...)
	b.instrs = b.instrs[:at:at]
	tail.next = b.next
	b.next = nil
	if b.FallsThrough() {
		b.next = tail
	}

	g.blocks = append(g.blocks, nil)
	copy(g.blocks[i+2:], g.blocks[i+1:])
	g.blocks[i+1] = tail

	for _, r := range g.ranges {
		if r.Last == b {
			r.Last = tail
		}
	}
	g.touch()
	return tail, nil
}

// SetFallthrough sets the block b falls through to. next may be nil only
// for the last block, which then runs off the end of the code.
func (g *Graph) SetFallthrough(b, next *Block) error {
	if !g.owns(b) {
		return ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", b.ID())
	}
	if next != nil {
		if !g.owns(next) {
			return ir.Errorf(ir.ErrMalformedGraph, "block %d is not in the graph", next.ID())
		}
		if !b.FallsThrough() {
			return ir.Errorf(ir.ErrMalformedGraph, "block %d ends in %s and cannot fall through", b.ID(), b.instrs[len(b.instrs)-1].Op)
		}
	} else if b.FallsThrough() && g.index(b) != len(g.blocks)-1 {
		return ir.Errorf(ir.ErrMalformedGraph, "block %d falls through and is not the last block", b.ID())
	}
	b.next = next
	g.touch()
	return nil
}

// ---------------------------------------------------------------------------
// Exception ranges
// ---------------------------------------------------------------------------

// AddRange adds an exception range. Its blocks must belong to the graph and
// First must not come after Last.
func (g *Graph) AddRange(r ExceptionRange) (*ExceptionRange, error) {
	if !g.Profile.ExceptionTable {
		return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "profile %s handles exceptions inline", g.Profile.Tag)
	}
	if !g.owns(r.First) || !g.owns(r.Last) || !g.owns(r.Handler) {
		return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "range blocks must belong to the graph")
	}
	if g.index(r.First) > g.index(r.Last) {
		return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "range starts at block %d after it ends at block %d", r.First.ID(), r.Last.ID())
	}
	if r.Depth < AutoDepth {
		return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "negative handler depth %d", r.Depth)
	}
	nr := r
	g.ranges = append(g.ranges, &nr)
	g.touch()
	return &nr, nil
}

// RemoveRange deletes r.
func (g *Graph) RemoveRange(r *ExceptionRange) error {
	for i, x := range g.ranges {
		if x == r {
			g.ranges = append(g.ranges[:i], g.ranges[i+1:]...)
			g.touch()
			return nil
		}
	}
	return ir.Errorf(ir.ErrInvalidExceptionRange, "range is not in the graph")
}

// Ranges returns the exception ranges.
func (g *Graph) Ranges() []*ExceptionRange {
	return append([]*ExceptionRange(nil), g.ranges...)
}

// Covers reports whether r covers b in the current block order. Coverage
// follows MoveBlock: it is decided by position, not remembered per block.
func (g *Graph) Covers(r *ExceptionRange, b *Block) bool {
	i := g.index(b)
	return i >= 0 && g.index(r.First) <= i && i <= g.index(r.Last)
}

// ---------------------------------------------------------------------------
// Instruction checks
// ---------------------------------------------------------------------------

// checkInstrs verifies that instrs can form a block: operands match the
// profile, jump labels belong to the graph, and only the last instruction
// transfers control.
func (g *Graph) checkInstrs(instrs []ir.Instr) error {
	for i, in := range instrs {
		def, err := g.Profile.Def(in)
		if err != nil {
			return withIndex(err, i, in.Loc)
		}
		if in.IsJump() && !g.labels.Owns(in.Arg.Label()) {
			return ir.Errorf(ir.ErrUnresolvedLabel, "%s does not belong to the graph", in.Arg.Label()).AtIndex(i, in.Loc)
		}
		if def.Transfers() && i != len(instrs)-1 {
			return ir.Errorf(ir.ErrMalformedGraph, "%s must end its block", in.Op).AtIndex(i, in.Loc)
		}
	}
	return nil
}

func withIndex(err error, idx int, loc ir.Location) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return e.AtIndex(idx, loc)
	}
	return err
}

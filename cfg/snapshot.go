package cfg

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cfg: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// snapshot is the wire form of a graph. Blocks are referred to by position.
type snapshot struct {
	Profile  string          `cbor:"1,keyasint"`
	Flags    uint16          `cbor:"2,keyasint"`
	MaxStack int             `cbor:"3,keyasint"`
	Labels   int             `cbor:"4,keyasint"`
	Blocks   []snapshotBlock `cbor:"5,keyasint"`
	Ranges   []snapshotRange `cbor:"6,keyasint,omitempty"`
}

type snapshotBlock struct {
	Instrs []snapshotInstr `cbor:"1,keyasint,omitempty"`
	Next   int             `cbor:"2,keyasint"` // -1 when none
	Labels []uint32        `cbor:"3,keyasint,omitempty"`
}

type snapshotInstr struct {
	Op     string `cbor:"1,keyasint"`
	Kind   uint8  `cbor:"2,keyasint,omitempty"`
	Value  uint32 `cbor:"3,keyasint,omitempty"`
	Line   int    `cbor:"4,keyasint,omitempty"`
	Col    int    `cbor:"5,keyasint,omitempty"`
	EndCol int    `cbor:"6,keyasint,omitempty"`
}

type snapshotRange struct {
	First     int  `cbor:"1,keyasint"`
	Last      int  `cbor:"2,keyasint"`
	Handler   int  `cbor:"3,keyasint"`
	Depth     int  `cbor:"4,keyasint"`
	PushLasti bool `cbor:"5,keyasint,omitempty"`
}

// MarshalSnapshot serializes g to canonical CBOR, so that tools can hand
// graphs to each other between edits. Labels are renumbered from 1 in order
// of first use; labels neither bound nor referenced are dropped.
func MarshalSnapshot(g *Graph) ([]byte, error) {
	s := snapshot{
		Profile:  g.Profile.Tag,
		Flags:    g.Header.Flags,
		MaxStack: g.Header.MaxStack,
	}
	handles := make(map[ir.Label]uint32)
	handle := func(l ir.Label) uint32 {
		h, ok := handles[l]
		if !ok {
			h = uint32(len(handles) + 1)
			handles[l] = h
		}
		return h
	}
	for _, b := range g.blocks {
		sb := snapshotBlock{Next: g.blockIndex(b.next)}
		for _, in := range b.instrs {
			si := snapshotInstr{Op: in.Op, Kind: uint8(in.Arg.Kind()), Line: in.Loc.Line, Col: in.Loc.Col, EndCol: in.Loc.EndCol}
			if in.IsJump() {
				si.Value = handle(in.Arg.Label())
			} else {
				si.Value = in.Arg.Value()
			}
			sb.Instrs = append(sb.Instrs, si)
		}
		for l := 1; l < len(g.targets); l++ {
			if g.targets[l] == b {
				sb.Labels = append(sb.Labels, handle(ir.Label(l)))
			}
		}
		s.Blocks = append(s.Blocks, sb)
	}
	s.Labels = len(handles)
	for _, r := range g.ranges {
		s.Ranges = append(s.Ranges, snapshotRange{
			First:     g.blockIndex(r.First),
			Last:      g.blockIndex(r.Last),
			Handler:   g.blockIndex(r.Handler),
			Depth:     r.Depth,
			PushLasti: r.PushLasti,
		})
	}
	data, err := cborEncMode.Marshal(&s)
	if err != nil {
		return nil, fmt.Errorf("cfg: marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot rebuilds a graph from MarshalSnapshot output. The
// profile is looked up by its tag.
func UnmarshalSnapshot(data []byte) (*Graph, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("cfg: unmarshal snapshot: %w", err)
	}
	p, err := format.ProfileFor(s.Profile)
	if err != nil {
		return nil, err
	}
	if len(s.Blocks) == 0 {
		return nil, ir.Errorf(ir.ErrMalformedGraph, "snapshot has no blocks")
	}

	if err := s.checkLabels(); err != nil {
		return nil, err
	}

	g := &Graph{
		Profile: p,
		Header:  Header{Flags: s.Flags, MaxStack: s.MaxStack},
	}
	g.targets = make([]*Block, 1)
	g.reserveLabels(s.Labels)

	block := func(i int) (*Block, error) {
		if i < 0 || i >= len(g.blocks) {
			return nil, ir.Errorf(ir.ErrMalformedGraph, "snapshot refers to block %d of %d", i, len(g.blocks))
		}
		return g.blocks[i], nil
	}

	for range s.Blocks {
		g.blocks = append(g.blocks, g.newBlock())
	}
	for i, sb := range s.Blocks {
		b := g.blocks[i]
		instrs := make([]ir.Instr, 0, len(sb.Instrs))
		for _, si := range sb.Instrs {
			var arg ir.Operand
			switch ir.OperandKind(si.Kind) {
			case ir.NoOperand:
				arg = ir.None
			case ir.Immediate:
				arg = ir.Imm(si.Value)
			case ir.Variable:
				arg = ir.Var(si.Value)
			case ir.LabelRef:
				arg = ir.Ref(ir.Label(si.Value))
			default:
				return nil, ir.Errorf(ir.ErrInvalidOperand, "snapshot operand kind %d", si.Kind)
			}
			instrs = append(instrs, ir.Instr{Op: si.Op, Arg: arg, Loc: ir.Location{Line: si.Line, Col: si.Col, EndCol: si.EndCol}})
		}
		if err := g.checkInstrs(instrs); err != nil {
			return nil, err
		}
		b.instrs = instrs
		if sb.Next >= 0 {
			if b.next, err = block(sb.Next); err != nil {
				return nil, err
			}
		}
		for _, l := range sb.Labels {
			if g.targets[l] != nil {
				return nil, ir.Errorf(ir.ErrDuplicateLabel, "snapshot binds L%d twice", l)
			}
			g.targets[l] = b
		}
	}
	for _, sr := range s.Ranges {
		r := &ExceptionRange{Depth: sr.Depth, PushLasti: sr.PushLasti}
		if r.First, err = block(sr.First); err != nil {
			return nil, err
		}
		if r.Last, err = block(sr.Last); err != nil {
			return nil, err
		}
		if r.Handler, err = block(sr.Handler); err != nil {
			return nil, err
		}
		g.ranges = append(g.ranges, r)
	}
	return g, nil
}

// checkLabels makes sure the label count is exactly the number of distinct
// handles the snapshot uses, so that every handle is in range and the label
// table is no larger than the snapshot itself.
func (s *snapshot) checkLabels() error {
	used := make(map[uint32]bool)
	use := func(l uint32) error {
		if l == 0 || int64(l) > int64(s.Labels) {
			return ir.Errorf(ir.ErrUnresolvedLabel, "snapshot uses label L%d of %d", l, s.Labels)
		}
		used[l] = true
		return nil
	}
	if s.Labels < 0 {
		return ir.Errorf(ir.ErrMalformedGraph, "snapshot declares %d labels", s.Labels)
	}
	for i, sb := range s.Blocks {
		if sb.Next < -1 {
			return ir.Errorf(ir.ErrMalformedGraph, "block %d has successor %d", i, sb.Next)
		}
		for _, si := range sb.Instrs {
			if ir.OperandKind(si.Kind) != ir.LabelRef {
				continue
			}
			if err := use(si.Value); err != nil {
				return err
			}
		}
		for _, l := range sb.Labels {
			if err := use(l); err != nil {
				return err
			}
		}
	}
	if len(used) != s.Labels {
		return ir.Errorf(ir.ErrMalformedGraph, "snapshot declares %d labels but uses %d", s.Labels, len(used))
	}
	return nil
}

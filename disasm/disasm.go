package disasm

import (
	"fmt"
	"strings"

	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/container"
)

// Disassemble decodes a container into a control-flow graph. See Decode for
// how tag selects the profile.
func Disassemble(data []byte, tag string) (*cfg.Graph, error) {
	code, err := Decode(data, tag)
	if err != nil {
		return nil, err
	}
	g, err := cfg.Build(code.Sequence, code.Profile, cfg.BuildOptions{})
	if err != nil {
		return nil, fmt.Errorf("disasm: %w", err)
	}
	g.Header = code.Header
	return g, nil
}

// Listing returns a human-readable listing of g with the byte offset each
// instruction would be assembled at.
func Listing(g *cfg.Graph, name string) (string, error) {
	out, err := asm.New(asm.Options{}).Assemble(g)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Profile: %s (%s)\n", g.Profile.Tag, g.Profile.Description))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", out.Image.Flags))
	if out.Image.Flags&container.FlagExceptionTable != 0 {
		sb.WriteString(" [EXCEPTIONS]")
	}
	if out.Image.Flags&container.FlagLineTable != 0 {
		sb.WriteString(" [LINES]")
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("; Max stack: %d\n", out.Image.MaxStack))
	sb.WriteString("\n")

	if len(out.Entries) > 0 {
		sb.WriteString("; Exception table:\n")
		for _, e := range out.Entries {
			sb.WriteString(fmt.Sprintf(";   %04X-%04X -> %04X depth=%d", e.Start, e.End, e.Target, e.Depth))
			if e.Lasti {
				sb.WriteString(" lasti")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	blocks := g.Blocks()
	k := 0
	for i, b := range blocks {
		sb.WriteString(fmt.Sprintf("%s:\n", b))
		for _, in := range b.Instrs() {
			text := in.Op
			if in.IsJump() {
				text = fmt.Sprintf("%s -> %s", in.Op, g.Target(in.Arg.Label()))
			} else if s := in.Arg.String(); s != "" {
				text += " " + s
			}
			if in.Loc.Known() {
				sb.WriteString(fmt.Sprintf("%04X  %-30s ; %s\n", out.Offsets[k], text, in.Loc))
			} else {
				sb.WriteString(fmt.Sprintf("%04X  %s\n", out.Offsets[k], text))
			}
			k++
		}
		// The assembler appends a jump when the successor is laid out
		// elsewhere.
		if next := b.Fallthrough(); next != nil && (i+1 >= len(blocks) || blocks[i+1] != next) {
			sb.WriteString(fmt.Sprintf("%04X  %s -> %s ; fallthrough\n", out.Offsets[k], g.Profile.FallthroughJump().Name, next))
			k++
		}
	}
	return sb.String(), nil
}

// Package bcir edits compiled stack-VM code as a control-flow graph.
//
// A container is disassembled into a cfg.Graph, edited through the graph's
// block and range operations, then assembled back into bytes. Jump offsets,
// prefix widths, exception ranges and the maximum stack depth are recomputed
// on assembly; callers never handle raw offsets.
//
//	g, err := bcir.Disassemble(data, "v3")
//	...
//	g.Entry().Insert(0, ir.MustNew(g.Profile, "NOP", ir.None))
//	out, err := bcir.Assemble(g)
package bcir

import (
	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/disasm"
	"github.com/chazu/bcir/flow"
)

// Disassemble decodes a container into a graph using the profile named by
// tag. An empty tag selects the profile from the container's version number.
func Disassemble(data []byte, tag string) (*cfg.Graph, error) {
	return disasm.Disassemble(data, tag)
}

// Assemble encodes g into a container with default options.
func Assemble(g *cfg.Graph) ([]byte, error) {
	return asm.Assemble(g)
}

// Validate checks stack consistency and structure of g. Validation is
// advisory: a graph with issues may still assemble.
func Validate(g *cfg.Graph) []flow.Issue {
	return flow.Validate(g)
}

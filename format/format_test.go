package format

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/bcir/ir"
)

func mustProfile(t *testing.T, tag string) *Profile {
	t.Helper()
	p, err := ProfileFor(tag)
	if err != nil {
		t.Fatalf("ProfileFor(%q): %v", tag, err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestBuiltinProfiles(t *testing.T) {
	if diff := cmp.Diff([]string{"v1", "v2", "v3", "v4"}, Tags()); diff != "" {
		t.Errorf("Tags() mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		tag    string
		number uint16
		rule   JumpRule
		unit   int
		table  bool
	}{
		{"v1", 1, JumpAbsolute, 1, false},
		{"v2", 2, JumpAbsolute, 2, false},
		{"v3", 3, JumpRelative, 2, true},
		{"v4", 4, JumpSigned, 2, true},
	}
	for _, tt := range tests {
		p := mustProfile(t, tt.tag)
		if p.Number != tt.number || p.Jumps != tt.rule || p.JumpUnit != tt.unit || p.ExceptionTable != tt.table {
			t.Errorf("%s: got number=%d rule=%s unit=%d table=%v", tt.tag, p.Number, p.Jumps, p.JumpUnit, p.ExceptionTable)
		}
		q, err := ProfileForNumber(tt.number)
		if err != nil || q != p {
			t.Errorf("ProfileForNumber(%d) = %v, %v", tt.number, q, err)
		}
	}
}

func TestProfileForUnknown(t *testing.T) {
	_, err := ProfileFor("v99")
	if !errors.Is(err, ir.ErrUnsupportedVersion) {
		t.Errorf("ProfileFor(v99) = %v, want unsupported version", err)
	}
	_, err = ProfileForNumber(99)
	if !errors.Is(err, ir.ErrUnsupportedVersion) {
		t.Errorf("ProfileForNumber(99) = %v, want unsupported version", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	if err := Register(mustProfile(t, "v1")); err == nil {
		t.Error("registering v1 twice should fail")
	}
}

// ---------------------------------------------------------------------------
// Opcode tests
// ---------------------------------------------------------------------------

func TestOpLookup(t *testing.T) {
	p := mustProfile(t, "v3")
	d, ok := p.Op("CALL")
	if !ok {
		t.Fatal("CALL should be defined")
	}
	if d.Caches != 3 {
		t.Errorf("CALL caches = %d, want 3", d.Caches)
	}
	if got, ok := p.ByCode(d.Code); !ok || got != d {
		t.Errorf("ByCode(%d) = %v", d.Code, got)
	}
	if _, ok := p.ByCode(250); ok {
		t.Error("code 250 should be undefined")
	}
	if _, ok := p.Op("SETUP_EXCEPT"); ok {
		t.Error("v3 has no SETUP_EXCEPT")
	}
}

func TestStackEffect(t *testing.T) {
	p := mustProfile(t, "v1")
	tests := []struct {
		op   string
		arg  uint32
		jump bool
		want int
	}{
		{"PUSH_CONST", 0, false, 1},
		{"RETURN", 0, false, -1},
		{"CALL", 2, false, -2},
		{"BUILD_LIST", 3, false, -2},
		{"FOR_ITER", 0, false, 1},
		{"FOR_ITER", 0, true, -1},
		{"JUMP_IF_FALSE", 0, true, -1},
		{"JUMP_IF_FALSE_OR_POP", 0, false, -1},
		{"JUMP_IF_FALSE_OR_POP", 0, true, 0},
		{"SETUP_EXCEPT", 0, false, 0},
		{"SETUP_EXCEPT", 0, true, 1},
	}
	for _, tt := range tests {
		d, _ := p.Op(tt.op)
		if got := d.StackEffect(tt.arg, tt.jump); got != tt.want {
			t.Errorf("%s(%d, jump=%v) effect = %d, want %d", tt.op, tt.arg, tt.jump, got, tt.want)
		}
	}
}

func TestFlowClassification(t *testing.T) {
	p := mustProfile(t, "v1")
	tests := []struct {
		op                   string
		transfers, fallsThru bool
	}{
		{"NOP", false, true},
		{"JUMP", true, false},
		{"JUMP_IF_TRUE", true, true},
		{"RETURN", true, false},
		{"RAISE", true, false},
		{"SETUP_EXCEPT", true, true},
	}
	for _, tt := range tests {
		d, _ := p.Op(tt.op)
		if d.Transfers() != tt.transfers || d.FallsThrough() != tt.fallsThru {
			t.Errorf("%s: transfers=%v falls=%v", tt.op, d.Transfers(), d.FallsThrough())
		}
	}
}

func TestCheckOperand(t *testing.T) {
	p := mustProfile(t, "v2")
	tests := []struct {
		op   string
		arg  ir.Operand
		kind error
	}{
		{"PUSH_CONST", ir.Imm(1), nil},
		{"LOAD_LOCAL", ir.Var(0), nil},
		{"LOAD_LOCAL", ir.Imm(0), ir.ErrInvalidOperand},
		{"JUMP", ir.Ref(1), nil},
		{"JUMP", ir.Ref(ir.NoLabel), ir.ErrInvalidOperand},
		{"RETURN", ir.Imm(0), ir.ErrInvalidOperand},
		{"EXTENDED_ARG", ir.Imm(1), ir.ErrInvalidOperand},
		{"JUMP_FORWARD", ir.Ref(1), ir.ErrUnknownOpcode},
	}
	for _, tt := range tests {
		err := p.CheckOperand(tt.op, tt.arg)
		if tt.kind == nil && err != nil {
			t.Errorf("CheckOperand(%s, %s) = %v", tt.op, tt.arg, err)
		}
		if tt.kind != nil && !errors.Is(err, tt.kind) {
			t.Errorf("CheckOperand(%s, %s) = %v, want %v", tt.op, tt.arg, err, tt.kind)
		}
	}
}

func TestVariant(t *testing.T) {
	p := mustProfile(t, "v3")
	fwd, _ := p.Op("JUMP_FORWARD")
	back, err := p.Variant(fwd, true)
	if err != nil || back.Name != "JUMP_BACKWARD" {
		t.Errorf("Variant(JUMP_FORWARD, backward) = %v, %v", back, err)
	}
	if same, _ := p.Variant(back, true); same != back {
		t.Errorf("Variant(JUMP_BACKWARD, backward) = %v", same)
	}
	forIter, _ := p.Op("FOR_ITER")
	if _, err := p.Variant(forIter, true); !errors.Is(err, ir.ErrInvalidOperand) {
		t.Errorf("FOR_ITER backward: %v", err)
	}

	p4 := mustProfile(t, "v4")
	jump, _ := p4.Op("JUMP")
	if got, _ := p4.Variant(jump, true); got != jump {
		t.Error("undirected profiles return the opcode unchanged")
	}
}

func TestExtendedArgs(t *testing.T) {
	tests := []struct {
		arg  uint32
		want int
	}{
		{0, 0}, {255, 0}, {256, 1}, {0xFFFF, 1}, {0x10000, 2}, {0xFFFFFF, 2}, {0x1000000, 3}, {0xFFFFFFFF, 3},
	}
	for _, tt := range tests {
		if got := ExtendedArgs(tt.arg); got != tt.want {
			t.Errorf("ExtendedArgs(%#x) = %d, want %d", tt.arg, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Jump codec tests
// ---------------------------------------------------------------------------

func TestJumpCodecs(t *testing.T) {
	tests := []struct {
		name     string
		codec    JumpCodec
		end      int
		target   int
		arg      uint32
		backward bool
	}{
		{"absolute bytes", NewJumpCodec(JumpAbsolute, 1), 4, 10, 10, false},
		{"absolute units", NewJumpCodec(JumpAbsolute, 2), 4, 10, 5, false},
		{"relative forward", NewJumpCodec(JumpRelative, 2), 4, 10, 3, false},
		{"relative backward", NewJumpCodec(JumpRelative, 2), 10, 4, 3, true},
		{"relative zero", NewJumpCodec(JumpRelative, 2), 6, 6, 0, false},
		{"signed forward", NewJumpCodec(JumpSigned, 2), 4, 10, 6, false},
		{"signed backward", NewJumpCodec(JumpSigned, 2), 10, 4, 5, true},
		{"signed one back", NewJumpCodec(JumpSigned, 2), 6, 4, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arg, backward, err := tt.codec.Encode(tt.end, tt.target)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if arg != tt.arg || backward != tt.backward {
				t.Errorf("Encode(%d, %d) = %d, %v; want %d, %v", tt.end, tt.target, arg, backward, tt.arg, tt.backward)
			}
			if got := tt.codec.Decode(tt.end, arg, backward); got != tt.target {
				t.Errorf("Decode = %d, want %d", got, tt.target)
			}
		})
	}
}

func TestAbsoluteNegativeTarget(t *testing.T) {
	_, _, err := NewJumpCodec(JumpAbsolute, 1).Encode(0, -2)
	if !errors.Is(err, ir.ErrInvalidOperand) {
		t.Errorf("Encode(-2) = %v, want invalid operand", err)
	}
}

// ---------------------------------------------------------------------------
// Parse tests
// ---------------------------------------------------------------------------

const minimalProfile = `
tag = "test"
number = 77
jump-rule = "absolute"
jump-unit = "unit"
extended-arg = "EXT"
fallthrough-jump = "GO"

[[opcode]]
name = "EXT"
code = 1
arg = "imm"

[[opcode]]
name = "GO"
code = 2
arg = "jump"
flow = "jump"
`

func TestParseMinimal(t *testing.T) {
	p, err := Parse([]byte(minimalProfile))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Tag != "test" || len(p.Ops()) != 2 {
		t.Errorf("got tag %q with %d ops", p.Tag, len(p.Ops()))
	}
	if p.ExtendedArg().Name != "EXT" || p.FallthroughJump().Name != "GO" {
		t.Error("prefix and fallthrough jump not resolved")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"unknown key", func(s string) string { return s + "\ncolour = 1\n" }, "unknown keys"},
		{"bad rule", func(s string) string { return strings.Replace(s, `"absolute"`, `"sideways"`, 1) }, "jump-rule"},
		{"dup code", func(s string) string { return strings.Replace(s, "code = 2", "code = 1", 1) }, "share code"},
		{"jump without arg", func(s string) string { return strings.Replace(s, `arg = "jump"`, `arg = "imm"`, 1) }, "does not match"},
		{"missing prefix", func(s string) string { return strings.Replace(s, `extended-arg = "EXT"`, `extended-arg = "NOPE"`, 1) }, "extended-arg"},
		{"no tag", func(s string) string { return strings.Replace(s, `tag = "test"`, ``, 1) }, "no tag"},
		{"direction on absolute", func(s string) string { return s + "backward = true\n" }, "directions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.edit(minimalProfile)))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestParseBadPair(t *testing.T) {
	src := `
tag = "pairs"
number = 78
jump-rule = "relative"
extended-arg = "EXT"
fallthrough-jump = "FWD"

[[opcode]]
name = "EXT"
code = 1
arg = "imm"

[[opcode]]
name = "FWD"
code = 2
arg = "jump"
flow = "jump"
pair = "BACK"

[[opcode]]
name = "BACK"
code = 3
arg = "jump"
flow = "jump"
pair = "FWD"
`
	if _, err := Parse([]byte(src)); err == nil || !strings.Contains(err.Error(), "not a forward/backward pair") {
		t.Errorf("Parse error = %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "test.toml"), []byte(minimalProfile), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	ps, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(ps) != 1 || ps[0].Tag != "test" {
		t.Errorf("LoadDir = %v", ps)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadFile of a missing file should fail")
	}
}

package format

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// profileFile mirrors the TOML layout of a profile table.
type profileFile struct {
	Tag             string        `toml:"tag"`
	Number          uint16        `toml:"number"`
	Description     string        `toml:"description"`
	JumpRule        string        `toml:"jump-rule"`
	JumpUnit        string        `toml:"jump-unit"`
	ExceptionTable  bool          `toml:"exception-table"`
	ExtendedArg     string        `toml:"extended-arg"`
	FallthroughJump string        `toml:"fallthrough-jump"`
	Opcodes         []opcodeEntry `toml:"opcode"`
}

type opcodeEntry struct {
	Name     string `toml:"name"`
	Code     int    `toml:"code"`
	Arg      string `toml:"arg"`
	Flow     string `toml:"flow"`
	Caches   int    `toml:"caches"`
	Pop      int    `toml:"pop"`
	Push     int    `toml:"push"`
	PopArg   int    `toml:"pop-arg"`
	PushArg  int    `toml:"push-arg"`
	JumpPop  *int   `toml:"jump-pop"`
	JumpPush *int   `toml:"jump-push"`
	Backward bool   `toml:"backward"`
	Pair     string `toml:"pair"`
}

// Parse builds a Profile from a TOML table.
func Parse(data []byte) (*Profile, error) {
	var f profileFile
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("profile %q: unknown keys %s", f.Tag, strings.Join(keys, ", "))
	}
	return f.build()
}

// LoadFile parses the profile table stored at path.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// LoadDir parses every *.toml file in dir, in name order.
func LoadDir(dir string) ([]*Profile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var out []*Profile
	for _, path := range paths {
		p, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *profileFile) build() (*Profile, error) {
	if f.Tag == "" {
		return nil, fmt.Errorf("profile has no tag")
	}
	if f.Number == 0 {
		return nil, fmt.Errorf("profile %q: number must be positive", f.Tag)
	}

	p := &Profile{
		Tag:            f.Tag,
		Number:         f.Number,
		Description:    f.Description,
		ExceptionTable: f.ExceptionTable,
		byName:         make(map[string]*OpDef, len(f.Opcodes)),
	}

	rule, ok := jumpRuleNames[f.JumpRule]
	if !ok {
		return nil, fmt.Errorf("profile %q: unknown jump-rule %q", f.Tag, f.JumpRule)
	}
	p.Jumps = rule
	switch f.JumpUnit {
	case "byte":
		p.JumpUnit = 1
	case "unit", "":
		p.JumpUnit = CodeUnit
	default:
		return nil, fmt.Errorf("profile %q: unknown jump-unit %q", f.Tag, f.JumpUnit)
	}
	if rule != JumpAbsolute && p.JumpUnit != CodeUnit {
		return nil, fmt.Errorf("profile %q: %s jumps count code units", f.Tag, rule)
	}
	p.codec = NewJumpCodec(rule, p.JumpUnit)

	for _, e := range f.Opcodes {
		d, err := e.def(p)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", f.Tag, err)
		}
		if _, dup := p.byName[d.Name]; dup {
			return nil, fmt.Errorf("profile %q: opcode %s defined twice", f.Tag, d.Name)
		}
		if other := p.byCode[d.Code]; other != nil {
			return nil, fmt.Errorf("profile %q: %s and %s share code %d", f.Tag, other.Name, d.Name, d.Code)
		}
		p.ops = append(p.ops, d)
		p.byName[d.Name] = d
		p.byCode[d.Code] = d
	}

	for _, d := range p.ops {
		if d.Pair == "" {
			continue
		}
		q, ok := p.byName[d.Pair]
		if !ok {
			return nil, fmt.Errorf("profile %q: %s pairs with undefined %s", f.Tag, d.Name, d.Pair)
		}
		if q.Pair != d.Name || q.Backward == d.Backward || q.Flow != d.Flow {
			return nil, fmt.Errorf("profile %q: %s and %s are not a forward/backward pair", f.Tag, d.Name, q.Name)
		}
	}

	ext, ok := p.byName[f.ExtendedArg]
	if !ok {
		return nil, fmt.Errorf("profile %q: extended-arg %q is not defined", f.Tag, f.ExtendedArg)
	}
	if ext.Arg != ArgImm || ext.Flow != FlowNext || ext.Caches != 0 {
		return nil, fmt.Errorf("profile %q: %s cannot serve as argument prefix", f.Tag, ext.Name)
	}
	p.extArg = ext

	fj, ok := p.byName[f.FallthroughJump]
	if !ok {
		return nil, fmt.Errorf("profile %q: fallthrough-jump %q is not defined", f.Tag, f.FallthroughJump)
	}
	if fj.Flow != FlowJump || fj.Backward {
		return nil, fmt.Errorf("profile %q: %s is not an unconditional forward jump", f.Tag, fj.Name)
	}
	p.fallJump = fj

	return p, nil
}

func (e *opcodeEntry) def(p *Profile) (*OpDef, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("opcode %d has no name", e.Code)
	}
	if e.Code < 0 || e.Code > 255 {
		return nil, fmt.Errorf("%s: code %d out of range", e.Name, e.Code)
	}
	arg, ok := argKindNames[e.Arg]
	if !ok {
		if e.Arg != "" {
			return nil, fmt.Errorf("%s: unknown arg kind %q", e.Name, e.Arg)
		}
		arg = ArgNone
	}
	flow, ok := flowNames[e.Flow]
	if !ok {
		return nil, fmt.Errorf("%s: unknown flow %q", e.Name, e.Flow)
	}
	needsJump := flow == FlowJump || flow == FlowBranch || flow == FlowSetup
	if needsJump != (arg == ArgJump) {
		return nil, fmt.Errorf("%s: flow %s does not match arg %s", e.Name, flow, arg)
	}
	if flow == FlowSetup && p.ExceptionTable {
		return nil, fmt.Errorf("%s: setup instructions need inline exception handling", e.Name)
	}
	if e.Caches < 0 || e.Pop < 0 || e.Push < 0 || e.PopArg < 0 || e.PushArg < 0 {
		return nil, fmt.Errorf("%s: negative count", e.Name)
	}
	if (e.Backward || e.Pair != "") && !(p.Jumps == JumpRelative && arg == ArgJump) {
		return nil, fmt.Errorf("%s: only relative jumps have directions", e.Name)
	}

	d := &OpDef{
		Name:     e.Name,
		Code:     byte(e.Code),
		Arg:      arg,
		Flow:     flow,
		Caches:   e.Caches,
		Pop:      e.Pop,
		Push:     e.Push,
		PopArg:   e.PopArg,
		PushArg:  e.PushArg,
		Backward: e.Backward,
		Pair:     e.Pair,
	}
	if e.JumpPop != nil || e.JumpPush != nil {
		if arg != ArgJump {
			return nil, fmt.Errorf("%s: jump effect on an opcode without a jump", e.Name)
		}
		d.jumpEffect = true
		if e.JumpPop != nil {
			d.JumpPop = *e.JumpPop
		}
		if e.JumpPush != nil {
			d.JumpPush = *e.JumpPush
		}
	}
	return d, nil
}

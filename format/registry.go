package format

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/bcir/ir"
)

//go:embed profiles/*.toml
var builtin embed.FS

var (
	registryMu sync.RWMutex
	byTag      = make(map[string]*Profile)
	byNumber   = make(map[uint16]*Profile)
)

func init() {
	entries, err := builtin.ReadDir("profiles")
	if err != nil {
		panic("format: read built-in profiles: " + err.Error())
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("profiles/" + e.Name())
		if err != nil {
			panic("format: " + err.Error())
		}
		p, err := Parse(data)
		if err != nil {
			panic("format: built-in " + e.Name() + ": " + err.Error())
		}
		if err := Register(p); err != nil {
			panic("format: " + err.Error())
		}
	}
}

// Register makes p available to ProfileFor. Tags and numbers must be unique.
func Register(p *Profile) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := byTag[p.Tag]; ok {
		return fmt.Errorf("profile %q already registered", p.Tag)
	}
	if other, ok := byNumber[p.Number]; ok {
		return fmt.Errorf("profile %q reuses version number %d of %q", p.Tag, p.Number, other.Tag)
	}
	byTag[p.Tag] = p
	byNumber[p.Number] = p
	return nil
}

// ProfileFor returns the profile registered under tag.
func ProfileFor(tag string) (*Profile, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := byTag[tag]
	if !ok {
		return nil, ir.Errorf(ir.ErrUnsupportedVersion, "no profile for version tag %q", tag)
	}
	return p, nil
}

// ProfileForNumber returns the profile whose container version number is n.
func ProfileForNumber(n uint16) (*Profile, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := byNumber[n]
	if !ok {
		return nil, ir.Errorf(ir.ErrUnsupportedVersion, "no profile for version number %d", n)
	}
	return p, nil
}

// Tags returns the registered tags in sorted order.
func Tags() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	tags := make([]string, 0, len(byTag))
	for t := range byTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

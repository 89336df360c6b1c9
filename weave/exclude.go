package weave

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/chazu/stmweave/pkg/stm"
)

// DefaultExcludes are the platform namespaces left alone unless included.
var DefaultExcludes = []string{"java/**", "javax/**", "sun/**", "jdk/**"}

// Policy decides which owner types take part in instrumentation. Patterns
// match internal names: * matches within one package segment and **
// across segments.
type Policy struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewPolicy compiles include and exclude patterns.
func NewPolicy(include, exclude []string) (*Policy, error) {
	p := &Policy{}
	var err error
	if p.include, err = compile(include); err != nil {
		return nil, err
	}
	if p.exclude, err = compile(exclude); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultPolicy excludes DefaultExcludes and includes nothing explicitly.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(nil, DefaultExcludes)
	if err != nil {
		panic(err)
	}
	return p
}

func compile(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pat := range patterns {
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Excluded reports whether accesses to members of owner pass through
// untouched. The transaction runtime and array pseudo-owners are always
// excluded; otherwise an include match wins over an exclude match.
func (p *Policy) Excluded(owner string) bool {
	if strings.HasPrefix(owner, stm.RuntimePackage) || strings.HasPrefix(owner, "[") {
		return true
	}
	for _, g := range p.include {
		if g.Match(owner) {
			return false
		}
	}
	for _, g := range p.exclude {
		if g.Match(owner) {
			return true
		}
	}
	return false
}

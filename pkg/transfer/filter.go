package transfer

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

type pattern struct {
	g glob.Glob
	// base patterns have no slash and match the last path element only
	base bool
}

// filter decides which entries are left out of a transfer.
type filter struct {
	patterns []pattern
}

func newFilter(exprs []string) (*filter, error) {
	f := &filter{}
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(expr, "/"), "/")
		g, err := glob.Compile(trimmed, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", expr, err)
		}
		f.patterns = append(f.patterns, pattern{g: g, base: !strings.Contains(trimmed, "/")})
	}
	return f, nil
}

// excluded reports whether rel, a slash separated path relative to the
// source directory, matches an exclude pattern.
func (f *filter) excluded(rel string) bool {
	if f == nil || len(f.patterns) == 0 {
		return false
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	for _, p := range f.patterns {
		subject := rel
		if p.base {
			subject = path.Base(rel)
		}
		if p.g.Match(subject) {
			return true
		}
	}
	return false
}

package tagger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidReplacement is returned for empty or non-compiling path patterns.
var ErrInvalidReplacement = errors.New("tagger: invalid path replacement")

// managementCommandsRegex collapses command directories to keep origins short.
var managementCommandsRegex = regexp.MustCompile(`/management/commands/`)

// Replacement is a single regex rewrite applied to displayed paths.
// Replacement may reference capture groups with $1, ${name}, etc.
type Replacement struct {
	Pattern     string
	Replacement string
}

type compiledReplacement struct {
	re          *regexp.Regexp
	replacement string
}

// PathNormalizer maps absolute source locations to short, stable display paths.
type PathNormalizer struct {
	root         string
	replacements []compiledReplacement
}

// NewPathNormalizer compiles the replacement list. It fails fast on an empty
// or invalid pattern so misconfiguration surfaces at startup rather than
// while a query is being issued.
func NewPathNormalizer(codeRoot string, replacements []Replacement) (*PathNormalizer, error) {
	root := strings.TrimRight(codeRoot, "/")
	if root == "" {
		return nil, ErrMissingCodeRoot
	}

	p := &PathNormalizer{
		root:         root,
		replacements: make([]compiledReplacement, 0, len(replacements)),
	}

	for i, r := range replacements {
		if r.Pattern == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty pattern", ErrInvalidReplacement, i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidReplacement, i, err)
		}
		p.replacements = append(p.replacements, compiledReplacement{re: re, replacement: r.Replacement})
	}

	return p, nil
}

// Root returns the configured code root without a trailing separator.
func (p *PathNormalizer) Root() string {
	return p.root
}

// IsCodeOurs reports whether path belongs to application code, that is
// whether it is the root itself or lies below it.
func (p *PathNormalizer) IsCodeOurs(path string) bool {
	return path == p.root || strings.HasPrefix(path, p.root+"/")
}

// Normalize returns the display form of path.
//
// Example, with root "/srv/app" and replacement `^internal/` -> "i/":
//
//	Normalize("/srv/app/internal/users/store.go")  // "i/users/store.go"
//	Normalize("/srv/app/tools/management/commands/sync.go") // "tools/m/c/sync.go"
//	Normalize("/usr/local/go/src/database/sql/sql.go") // unchanged
func (p *PathNormalizer) Normalize(path string) string {
	if p.IsCodeOurs(path) {
		path = strings.TrimPrefix(path[len(p.root):], "/")
	}

	for _, r := range p.replacements {
		path = r.re.ReplaceAllString(path, r.replacement)
	}

	return managementCommandsRegex.ReplaceAllString(path, "/m/c/")
}

package store

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/repowiki/repowiki/types"
)

// maxBaseNameBytes bounds a sanitized module file basename (without the
// ".md" extension).
const maxBaseNameBytes = 120

var unsafeRuns = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Sanitize maps a module name to a safe filesystem basename: lowercase,
// runs of unsafe characters collapsed to a single underscore, truncated to
// 120 bytes. Sanitize is idempotent.
func Sanitize(name string) string {
	s := strings.ToLower(name)
	s = unsafeRuns.ReplaceAllString(s, "_")
	if len(s) > maxBaseNameBytes {
		s = s[:maxBaseNameBytes]
	}
	if s == "" {
		s = "_"
	}
	return s
}

// AssignDocFiles computes the Markdown file name for every module in the
// tree. Names are assigned depth-first in tree order, so collisions get
// stable "-2", "-3", ... suffixes and repeated runs over the same tree
// produce identical assignments.
func AssignDocFiles(tree *types.Tree) map[*types.Module]string {
	assigned := make(map[*types.Module]string)
	taken := make(map[string]int)
	tree.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		base := Sanitize(m.Name)
		taken[base]++
		if n := taken[base]; n > 1 {
			base = fmt.Sprintf("%s-%d", base, n)
		}
		assigned[m] = base + ".md"
		return true
	})
	return assigned
}

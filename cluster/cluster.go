// Package cluster turns a flat component set into a module tree by
// recursive, token-budget-driven partitioning with the LLM as the
// semantic partition oracle.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/types"
)

// Bounds on the number of groups an LLM partition may return.
const (
	minGroups = 2
	maxGroups = 12
)

// maxRepairRounds bounds membership-repair exchanges per partition.
const maxRepairRounds = 2

// Options configures a Clusterer.
type Options struct {
	// LeafBudget is the token budget one leaf module may hold.
	LeafBudget int
	// MaxDepth bounds module depth; the depth cap overrides the budget.
	MaxDepth int
	// RepoName names the single root module in degenerate cases.
	RepoName string
	// CustomInstructions is appended verbatim to every partition prompt,
	// matching the treatment of generation prompts.
	CustomInstructions string
}

// Clusterer builds the module tree. It is a pure function of its inputs
// and the LLM responses; it never touches the filesystem.
type Clusterer struct {
	oracle    llm.Invoker
	comps     types.ComponentMap
	opts      Options
	logger    *zap.Logger
	exhausted bool
	warnings  []error
}

// New creates a clusterer.
func New(oracle llm.Invoker, comps types.ComponentMap, opts Options, logger *zap.Logger) *Clusterer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RepoName == "" {
		opts.RepoName = "repository"
	}
	return &Clusterer{
		oracle: oracle,
		comps:  comps,
		opts:   opts,
		logger: logger.With(zap.String("component", "clusterer")),
	}
}

// Build produces the module tree for the given leaf set. The returned
// warnings record every partition that degraded to deterministic behavior;
// they are advisory, never fatal. An empty leaf set yields an empty tree.
func (c *Clusterer) Build(ctx context.Context, leafIDs []string) (*types.Tree, []error) {
	ids := make([]string, 0, len(leafIDs))
	for _, id := range leafIDs {
		if _, ok := c.comps[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if len(ids) == 0 {
		return &types.Tree{Modules: types.ModuleList{}}, c.warnings
	}

	tree := &types.Tree{}
	if c.isBase(ids, 0) {
		tree.Modules = types.ModuleList{c.leafModule(c.deriveName(ids, 0), "", ids)}
		return tree, c.warnings
	}

	groups := c.partition(ctx, ids, 0)
	if len(groups) == 0 {
		// Exhausted oracle: the whole set collapses into one leaf.
		tree.Modules = types.ModuleList{c.leafModule(c.deriveName(ids, 0), "", ids)}
		return tree, c.warnings
	}
	modules := make(types.ModuleList, 0, len(groups))
	for _, g := range groups {
		modules = append(modules, c.buildNode(ctx, g, 0))
	}
	tree.Modules = dedupeSiblings(modules)
	return tree, c.warnings
}

// buildNode materializes the module for one group at the given depth,
// recursing while the group exceeds the budget and depth allows.
func (c *Clusterer) buildNode(ctx context.Context, g group, depth int) *types.Module {
	if c.isBase(g.ComponentIDs, depth) {
		return c.leafModule(g.Name, g.Description, g.ComponentIDs)
	}

	subgroups := c.partition(ctx, g.ComponentIDs, depth+1)
	if len(subgroups) == 0 {
		// Exhausted oracle: collapse the unpartitioned node as one leaf.
		return c.leafModule(g.Name, g.Description, g.ComponentIDs)
	}

	children := make(types.ModuleList, 0, len(subgroups))
	for _, sg := range subgroups {
		children = append(children, c.buildNode(ctx, sg, depth+1))
	}
	return &types.Module{
		Name:         cleanName(g.Name),
		Description:  g.Description,
		ComponentIDs: []string{},
		DocStatus:    types.StatusAbsent,
		Children:     dedupeSiblings(children),
	}
}

// isBase reports whether the id set becomes a single leaf module: it fits
// the budget, sits at the depth cap, or cannot be split further.
func (c *Clusterer) isBase(ids []string, depth int) bool {
	if len(ids) <= 1 {
		return true
	}
	if depth >= c.opts.MaxDepth {
		return true
	}
	return c.comps.TotalTokens(ids) <= c.opts.LeafBudget
}

// partition asks the oracle to split ids into named groups, repairing or
// falling back deterministically as needed. A nil result means the oracle
// is exhausted and the caller should collapse the node.
func (c *Clusterer) partition(ctx context.Context, ids []string, depth int) []group {
	if c.exhausted {
		return nil
	}
	total := c.comps.TotalTokens(ids)

	groups, err := c.askOracle(ctx, ids)
	if err != nil {
		if isExhausted(err) || ctx.Err() != nil {
			c.exhausted = true
			c.degrade(fmt.Errorf("LLM exhausted while partitioning %d components: %w", len(ids), err))
			return nil
		}
		c.degrade(fmt.Errorf("partition of %d components fell back to deterministic split: %w", len(ids), err))
		return fallbackPartition(c.comps, ids, depth, c.opts.LeafBudget)
	}

	// A group as large as the whole set would never converge.
	for _, g := range groups {
		if c.comps.TotalTokens(g.ComponentIDs) >= total {
			c.degrade(fmt.Errorf("partition produced non-shrinking group %q; using deterministic split", g.Name))
			return fallbackPartition(c.comps, ids, depth, c.opts.LeafBudget)
		}
	}
	return groups
}

// leafModule builds one leaf with a cleaned name.
func (c *Clusterer) leafModule(name, description string, ids []string) *types.Module {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return &types.Module{
		Name:         cleanName(name),
		Description:  description,
		ComponentIDs: sorted,
		DocStatus:    types.StatusAbsent,
		Children:     types.ModuleList{},
	}
}

// degrade records a recovered clustering degradation.
func (c *Clusterer) degrade(cause error) {
	c.logger.Warn("clustering degraded", zap.Error(cause))
	c.warnings = append(c.warnings,
		types.NewError(types.KindClusteringDegraded, "partition degraded").WithCause(cause))
}

// deriveName names a collapsed module from the longest common ancestor of
// its components' file paths; at depth 0 with no common ancestor, the
// repository name.
func (c *Clusterer) deriveName(ids []string, depth int) string {
	var common []string
	first := true
	for _, id := range ids {
		comp, ok := c.comps[id]
		if !ok {
			continue
		}
		segments := strings.Split(strings.Trim(comp.FilePath, "/"), "/")
		if len(segments) > 0 {
			segments = segments[:len(segments)-1] // drop the file name
		}
		if first {
			common = segments
			first = false
			continue
		}
		common = commonPrefix(common, segments)
	}
	if len(common) > 0 && common[len(common)-1] != "" {
		return common[len(common)-1]
	}
	if depth == 0 {
		return c.opts.RepoName
	}
	return "components"
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// cleanName strips characters that are illegal in sibling names.
func cleanName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return name
}

// dedupeSiblings enforces unique names among siblings with stable numeric
// suffixes.
func dedupeSiblings(list types.ModuleList) types.ModuleList {
	taken := make(map[string]bool, len(list))
	counts := make(map[string]int, len(list))
	for _, m := range list {
		base := m.Name
		counts[base]++
		name := base
		for n := counts[base]; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		m.Name = name
		taken[name] = true
	}
	return list
}

// isExhausted reports whether err is a gateway exhaustion.
func isExhausted(err error) bool {
	var ex *llm.ExhaustedError
	return errors.As(err, &ex)
}

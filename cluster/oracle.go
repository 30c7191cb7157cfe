package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/llm"
)

// group is one partition cell proposed by the oracle.
type group struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ComponentIDs []string `json:"component_ids"`
}

type partitionResponse struct {
	Groups []group `json:"groups"`
}

// askOracle runs the partition conversation: the initial prompt, up to two
// membership-repair rounds, and one group-count re-partition request. Any
// remaining invalidity is returned as an error so the caller can fall back.
func (c *Clusterer) askOracle(ctx context.Context, ids []string) ([]group, error) {
	prompt := c.partitionPrompt(ids)

	groups, diff, err := c.oneRound(ctx, prompt, ids)
	if err != nil {
		return nil, err
	}

	for round := 1; diff != "" && round <= maxRepairRounds; round++ {
		c.logger.Info("repairing partition membership",
			zap.Int("round", round),
			zap.Int("components", len(ids)),
		)
		groups, diff, err = c.oneRound(ctx, prompt+"\n\n"+repairNote(diff), ids)
		if err != nil {
			return nil, err
		}
	}
	if diff != "" {
		return nil, fmt.Errorf("membership still invalid after %d repair rounds: %s", maxRepairRounds, diff)
	}

	if n := len(groups); n < minGroups || n > maxGroups {
		c.logger.Info("re-requesting partition for group count", zap.Int("groups", n))
		retry := prompt + fmt.Sprintf("\n\nYour previous answer had %d groups. Return between %d and %d groups.", n, minGroups, maxGroups)
		regroups, rediff, err := c.oneRound(ctx, retry, ids)
		if err != nil {
			return nil, err
		}
		if rediff != "" {
			return nil, fmt.Errorf("re-partition membership invalid: %s", rediff)
		}
		if rn := len(regroups); rn < minGroups || rn > maxGroups {
			return nil, fmt.Errorf("group count %d outside [%d,%d] after re-partition", rn, minGroups, maxGroups)
		}
		groups = regroups
	}
	return groups, nil
}

// oneRound sends one prompt and validates the reply's membership. It
// returns the parsed groups and a human-readable membership diff; an empty
// diff means the partition is exact.
func (c *Clusterer) oneRound(ctx context.Context, prompt string, ids []string) ([]group, string, error) {
	raw, err := c.oracle.Generate(ctx, llm.PurposeCluster, prompt)
	if err != nil {
		return nil, "", err
	}
	groups, err := parsePartition(raw)
	if err != nil {
		return nil, "", err
	}
	return groups, membershipDiff(groups, ids), nil
}

// partitionPrompt lists every component's qualified name, file path and
// best-effort dependencies; source bodies are omitted to save tokens.
func (c *Clusterer) partitionPrompt(ids []string) string {
	var b strings.Builder
	b.WriteString("You are organizing a codebase into functional modules for documentation.\n")
	b.WriteString("Partition the following components into coherent groups by responsibility.\n\n")
	b.WriteString("Components:\n")
	for _, id := range ids {
		comp := c.comps[id]
		fmt.Fprintf(&b, "- %s (%s)", id, comp.FilePath)
		if len(comp.DependsOn) > 0 {
			deps := comp.DependsOn
			if len(deps) > 8 {
				deps = deps[:8]
			}
			fmt.Fprintf(&b, " depends on: %s", strings.Join(deps, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nRules:\n")
	fmt.Fprintf(&b, "- Return between %d and %d groups.\n", minGroups, maxGroups)
	b.WriteString("- Every component id must appear in exactly one group. Do not invent ids.\n")
	b.WriteString("- Group names are short human-readable phrases without slashes.\n\n")
	b.WriteString("Respond with only a JSON object of the form:\n")
	b.WriteString(`{"groups": [{"name": "...", "description": "...", "component_ids": ["..."]}]}`)
	b.WriteString("\n")
	if custom := strings.TrimSpace(c.opts.CustomInstructions); custom != "" {
		b.WriteString("\n")
		b.WriteString(custom)
		b.WriteString("\n")
	}
	return b.String()
}

// repairNote wraps a membership diff into a correction request.
func repairNote(diff string) string {
	return "Your previous partition was invalid:\n" + diff +
		"\nReturn the corrected JSON object with every component id in exactly one group."
}

// parsePartition extracts the JSON partition object from an oracle reply,
// tolerating surrounding prose and code fences.
func parsePartition(raw string) ([]group, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in partition response")
	}
	var resp partitionResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &resp); err != nil {
		return nil, fmt.Errorf("parse partition response: %w", err)
	}
	if len(resp.Groups) == 0 {
		return nil, fmt.Errorf("partition response has no groups")
	}
	for i := range resp.Groups {
		if strings.TrimSpace(resp.Groups[i].Name) == "" {
			resp.Groups[i].Name = fmt.Sprintf("group-%d", i+1)
		}
	}
	return resp.Groups, nil
}

// membershipDiff compares the union of group members against the expected
// id set. Empty result means exact cover.
func membershipDiff(groups []group, ids []string) string {
	expected := make(map[string]bool, len(ids))
	for _, id := range ids {
		expected[id] = true
	}

	counts := make(map[string]int)
	var unknown, duplicated []string
	for _, g := range groups {
		for _, id := range g.ComponentIDs {
			counts[id]++
			if !expected[id] {
				unknown = append(unknown, id)
			} else if counts[id] == 2 {
				duplicated = append(duplicated, id)
			}
		}
	}
	var missing []string
	for _, id := range ids {
		if counts[id] == 0 {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 && len(duplicated) == 0 {
		return ""
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	sort.Strings(duplicated)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing ids: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown ids: "+strings.Join(unknown, ", "))
	}
	if len(duplicated) > 0 {
		parts = append(parts, "duplicated ids: "+strings.Join(duplicated, ", "))
	}
	return strings.Join(parts, "\n")
}

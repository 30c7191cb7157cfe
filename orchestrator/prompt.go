package orchestrator

import (
	"fmt"
	"strings"

	"github.com/repowiki/repowiki/types"
)

// systemPrompt composes the shared system prompt: the module header, the
// global tree outline for orientation, output expectations and any custom
// instructions.
func (d *Deps) systemPrompt(t *Target) string {
	var b strings.Builder
	b.WriteString("You are a senior engineer writing reference documentation for a codebase.\n\n")

	if t.Module == nil {
		b.WriteString("Target: the repository overview synthesizing every top-level module.\n")
	} else {
		fmt.Fprintf(&b, "Target module: %s\n", t.Module.Name)
		if len(t.Path) > 1 {
			fmt.Fprintf(&b, "Position in tree: %s\n", strings.Join(t.Path, " > "))
		}
		if t.Module.Description != "" {
			fmt.Fprintf(&b, "Responsibility: %s\n", t.Module.Description)
		}
	}

	b.WriteString("\nModule tree of the repository:\n")
	b.WriteString(treeOutline(d.Tree))

	b.WriteString("\nWrite clear Markdown. Use Mermaid diagrams where they clarify structure or flow.\n")

	if custom := strings.TrimSpace(d.Config.CustomInstructions); custom != "" {
		b.WriteString("\n")
		b.WriteString(custom)
		b.WriteString("\n")
	}
	return b.String()
}

// treeOutline renders module names and descriptions, indented by depth.
func treeOutline(tree *types.Tree) string {
	var b strings.Builder
	tree.Walk(func(m *types.Module, _ *types.Module, depth int) bool {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("- ")
		b.WriteString(m.Name)
		if m.Description != "" {
			b.WriteString(": ")
			b.WriteString(m.Description)
		}
		b.WriteString("\n")
		return true
	})
	if b.Len() == 0 {
		return "(empty repository)\n"
	}
	return b.String()
}

// leafInstruction is the user-turn request for a leaf module document.
func leafInstruction(t *Target) string {
	return fmt.Sprintf(
		"Document the %q module: its purpose, each component's role, how the components interact, and usage considerations.",
		t.Name(),
	)
}

// parentInstruction is the user-turn request for a parent or overview
// document.
func parentInstruction(t *Target) string {
	if t.Module == nil {
		return "Write the repository overview: the architecture, how the top-level modules relate, and the main flows across them. Include a Mermaid architecture diagram."
	}
	return fmt.Sprintf(
		"Write a synthesizing document for the %q module: its architecture, how its child modules interact, and the cross-child flows. Include Mermaid diagrams where useful.",
		t.Module.Name,
	)
}

// componentSources concatenates the source bodies of the given component
// ids with identifying headers.
func (d *Deps) componentSources(ids []string) string {
	var b strings.Builder
	for _, id := range ids {
		comp, ok := d.Comps[id]
		if !ok {
			fmt.Fprintf(&b, "===== %s =====\n(unknown component)\n\n", id)
			continue
		}
		fmt.Fprintf(&b, "===== %s (%s:%d-%d) =====\n", comp.ID, comp.FilePath, comp.StartLine, comp.EndLine)
		b.WriteString(comp.SourceCode)
		if !strings.HasSuffix(comp.SourceCode, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

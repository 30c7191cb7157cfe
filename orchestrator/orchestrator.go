// Package orchestrator produces one Markdown artifact per module, either
// through a tool-enabled agent loop against the LLM API or through a
// single shot of an external agent command.
package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/config"
	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/llm/tokenizer"
	"github.com/repowiki/repowiki/store"
	"github.com/repowiki/repowiki/types"
)

// Target describes one generation unit handed over by the scheduler. A nil
// Module means the repository-level overview.
type Target struct {
	Module  *types.Module
	Path    []string // names from root to the module; empty for the overview
	DocFile string   // assigned Markdown basename within the docs dir
}

// Name returns the target's display name.
func (t *Target) Name() string {
	if t.Module == nil {
		return "repository overview"
	}
	return t.Module.Name
}

// Orchestrator generates documentation for modules. The scheduler selects
// the entry point by module shape and stays ignorant of the mode in use.
type Orchestrator interface {
	// ProcessModule generates the document for a leaf module and writes it
	// to the target's doc file.
	ProcessModule(ctx context.Context, t *Target) error

	// GenerateParentDoc synthesizes the document for a parent module or the
	// repository overview from its children's generated Markdown.
	GenerateParentDoc(ctx context.Context, t *Target) error
}

// Deps bundles the collaborators both modes share.
type Deps struct {
	Config   *config.Config
	Gateway  llm.Invoker
	Store    *store.Store
	Tree     *types.Tree
	Comps    types.ComponentMap
	DocFiles map[*types.Module]string
	// Counter sizes assembled prompts for accounting; defaults to the
	// tiktoken counter for the configured main model.
	Counter tokenizer.Counter
	Logger  *zap.Logger
}

// New selects the mode: the presence of agent_cmd picks subprocess mode,
// otherwise the tool-enabled API agent.
func New(deps Deps) Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Counter == nil {
		deps.Counter = tokenizer.NewTiktokenCounter(deps.Config.MainModel)
	}
	if deps.Config.SubprocessMode() {
		return newSubprocessOrchestrator(deps)
	}
	return newAPIOrchestrator(deps)
}

// promptTokens counts the tokens of an assembled prompt, falling back to
// the chars/4 estimate when the counter cannot size it.
func (d *Deps) promptTokens(prompt string) int {
	n, err := d.Counter.CountTokens(prompt)
	if err != nil {
		return tokenizer.Estimate(prompt)
	}
	return n
}

// moduleFailed wraps any generation failure in the module-failure kind so
// the scheduler records it and the module stays retryable on resume.
func moduleFailed(t *Target, msg string, cause error) error {
	return types.NewError(types.KindModuleFailed, msg).WithModule(t.Name()).WithCause(cause)
}

// StripFence removes a single outer Markdown code fence (```markdown or
// bare ```) when both the first and last lines are fence markers. Only one
// fence is removed per call, so a second call changes the result again when
// the remaining content is itself wrapped in a fence; otherwise it does not.
func StripFence(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	first := strings.TrimSpace(lines[0])
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(first, "```") || last != "```" {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n") + "\n"
}

// ExtractOverview returns the content between the first <OVERVIEW> pair,
// falling back to fence stripping when the tags are missing.
func ExtractOverview(s string) string {
	const openTag, closeTag = "<OVERVIEW>", "</OVERVIEW>"
	start := strings.Index(s, openTag)
	if start >= 0 {
		rest := s[start+len(openTag):]
		if end := strings.Index(rest, closeTag); end >= 0 {
			return strings.TrimSpace(rest[:end]) + "\n"
		}
	}
	return StripFence(s)
}

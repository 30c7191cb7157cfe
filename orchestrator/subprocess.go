package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/llm/providers/execbin"
)

// minDocBytes rejects degenerate agent output.
const minDocBytes = 64

// subprocessOrchestrator generates each module in a single shot of the
// external agent command: the full prompt on stdin, raw Markdown on
// stdout. No tools are involved.
type subprocessOrchestrator struct {
	Deps
	runner *execbin.Provider
	logger *zap.Logger
}

func newSubprocessOrchestrator(deps Deps) *subprocessOrchestrator {
	return &subprocessOrchestrator{
		Deps:   deps,
		runner: execbin.New(deps.Config.AgentCmd, deps.Store.DocsDir(), deps.Logger),
		logger: deps.Logger.With(zap.String("component", "subprocess_orchestrator")),
	}
}

// ProcessModule documents one leaf module: prompt with every component's
// complete source, strict raw-Markdown footer, one child-process run.
func (o *subprocessOrchestrator) ProcessModule(ctx context.Context, t *Target) error {
	var b strings.Builder
	b.WriteString(o.systemPrompt(t))
	b.WriteString("\n")
	b.WriteString(leafInstruction(t))
	b.WriteString("\n\nSource code of every component in this module:\n\n")
	b.WriteString(o.componentSources(t.Module.ComponentIDs))
	b.WriteString("\nOutput the raw Markdown document only. No code fences around the document, no preamble, no commentary.\n")

	prompt := b.String()
	o.logger.Debug("assembled leaf prompt",
		zap.String("module", t.Name()),
		zap.Int("prompt_tokens", o.promptTokens(prompt)),
	)
	output, err := o.runner.Run(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return moduleFailed(t, "agent command failed", err)
	}
	return o.accept(t, StripFence(output))
}

// GenerateParentDoc synthesizes a parent or overview document. The footer
// demands the result wrapped in <OVERVIEW> tags; the orchestrator extracts
// the content between the first pair.
func (o *subprocessOrchestrator) GenerateParentDoc(ctx context.Context, t *Target) error {
	payload, err := o.contextPayload(t)
	if err != nil {
		return moduleFailed(t, "build context payload", err)
	}

	var b strings.Builder
	b.WriteString(o.systemPrompt(t))
	b.WriteString("\n")
	b.WriteString(parentInstruction(t))
	b.WriteString("\n\nModule tree with the target's direct children documented inline:\n\n")
	b.WriteString(payload)
	b.WriteString("\n\nWrap the finished Markdown document in <OVERVIEW> and </OVERVIEW> tags. Output nothing outside the tags.\n")

	prompt := b.String()
	o.logger.Debug("assembled overview prompt",
		zap.String("module", t.Name()),
		zap.Int("prompt_tokens", o.promptTokens(prompt)),
	)
	output, err := o.runner.Run(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return moduleFailed(t, "agent command failed", err)
	}
	return o.accept(t, ExtractOverview(output))
}

// accept validates and atomically persists the generated document.
func (o *subprocessOrchestrator) accept(t *Target, doc string) error {
	if len(strings.TrimSpace(doc)) == 0 || len(doc) < minDocBytes {
		return moduleFailed(t, "agent output too short to be a document", nil)
	}
	if err := o.Store.WriteDoc(t.DocFile, doc); err != nil {
		return err
	}
	o.logger.Info("module documented",
		zap.String("module", t.Name()),
		zap.String("file", t.DocFile),
		zap.Int("bytes", len(doc)),
	)
	return nil
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/types"
)

// maxAgentTurns bounds one module's agent loop.
const maxAgentTurns = 50

// apiOrchestrator runs a cooperative, single-threaded agent loop per
// module: issue an LLM request, execute returned tool calls sequentially,
// feed results back, repeat until the agent stops calling tools.
type apiOrchestrator struct {
	Deps
	logger *zap.Logger
}

func newAPIOrchestrator(deps Deps) *apiOrchestrator {
	return &apiOrchestrator{
		Deps:   deps,
		logger: deps.Logger.With(zap.String("component", "api_orchestrator")),
	}
}

// complex reports whether the module needs the full tool set: many
// components at this level, or a component payload larger than half the
// generation budget.
func (o *apiOrchestrator) complex(m *types.Module) bool {
	if m == nil {
		return false
	}
	if len(m.ComponentIDs) > 10 {
		return true
	}
	return o.Comps.TotalTokens(m.ComponentIDs) > o.Config.MaxTokens/2
}

// ProcessModule documents one leaf module through the agent loop.
func (o *apiOrchestrator) ProcessModule(ctx context.Context, t *Target) error {
	instruction := leafInstruction(t) + o.outputContract(t)
	return o.runAgent(ctx, t, llm.PurposeLeafDoc, instruction)
}

// GenerateParentDoc synthesizes a parent or overview document through the
// agent loop, with the children's Markdown inlined in the instruction.
func (o *apiOrchestrator) GenerateParentDoc(ctx context.Context, t *Target) error {
	payload, err := o.contextPayload(t)
	if err != nil {
		return moduleFailed(t, "build context payload", err)
	}
	instruction := parentInstruction(t) +
		"\n\nModule tree with the target's direct children documented inline:\n\n" + payload +
		o.outputContract(t)
	return o.runAgent(ctx, t, llm.PurposeOverview, instruction)
}

// outputContract tells the agent where the artifact must land.
func (o *apiOrchestrator) outputContract(t *Target) string {
	return fmt.Sprintf(
		"\n\nCreate the finished document with str_replace_editor op=create at path %q. The file must contain the complete Markdown.",
		t.DocFile,
	)
}

// runAgent drives the tool loop and verifies the artifact afterwards.
func (o *apiOrchestrator) runAgent(ctx context.Context, t *Target, purpose llm.Purpose, instruction string) error {
	ed := newEditor(o.Store.DocsDir(), o.Config.RepoDir)
	tools := o.toolSchemas(t)

	messages := []llm.Message{
		llm.NewSystemMessage(o.systemPrompt(t)),
		llm.NewUserMessage(instruction),
	}
	o.logger.Debug("starting agent loop",
		zap.String("module", t.Name()),
		zap.Int("prompt_tokens", o.promptTokens(messages[0].Content+messages[1].Content)),
	)

	for turn := 0; turn < maxAgentTurns; turn++ {
		resp, err := o.Gateway.Chat(ctx, purpose, &llm.ChatRequest{
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return moduleFailed(t, "agent LLM call failed", err)
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			return o.verify(t)
		}

		messages = append(messages, resp.Choices[0].Message)
		for _, call := range calls {
			result := o.dispatch(ctx, t, ed, call)
			o.logger.Debug("tool call",
				zap.String("module", t.Name()),
				zap.String("tool", call.Name),
				zap.Int("turn", turn+1),
			)
			messages = append(messages, llm.NewToolMessage(call.ID, call.Name, result))
		}
	}
	return moduleFailed(t, fmt.Sprintf("agent turn budget (%d) exhausted", maxAgentTurns), nil)
}

// verify enforces the artifact contract: the agent must have created a
// non-empty UTF-8 file at the assigned path.
func (o *apiOrchestrator) verify(t *Target) error {
	if !o.Store.DocOK(t.DocFile) {
		return moduleFailed(t, fmt.Sprintf("agent finished without creating %s", t.DocFile), nil)
	}
	return nil
}

// dispatch executes one tool call. Tool failures are reported to the agent
// as plain-text results, never raised.
func (o *apiOrchestrator) dispatch(ctx context.Context, t *Target, ed *editor, call llm.ToolCall) string {
	switch call.Name {
	case "read_code_components":
		var args struct {
			ComponentIDs []string `json:"component_ids"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "error: invalid arguments: " + err.Error()
		}
		if len(args.ComponentIDs) == 0 {
			return "error: component_ids is empty"
		}
		return o.componentSources(args.ComponentIDs)

	case "str_replace_editor":
		var args editorArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "error: invalid arguments: " + err.Error()
		}
		return ed.run(&args)

	case "generate_sub_module_documentation":
		if !o.complex(t.Module) {
			return "error: tool not available for this module"
		}
		var args struct {
			ModuleNames []string `json:"module_names"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return "error: invalid arguments: " + err.Error()
		}
		return o.generateSubModules(ctx, t, args.ModuleNames)

	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
}

// generateSubModules documents the named direct children, skipping ones
// whose artifact already exists.
func (o *apiOrchestrator) generateSubModules(ctx context.Context, t *Target, names []string) string {
	if t.Module == nil {
		return "error: the overview has no sub-modules"
	}
	var report []string
	for _, name := range names {
		child := t.Module.Child(name)
		if child == nil {
			report = append(report, fmt.Sprintf("%s: unknown child module", name))
			continue
		}
		docFile := o.DocFiles[child]
		if docFile == "" {
			report = append(report, fmt.Sprintf("%s: no assigned document", name))
			continue
		}
		if o.Store.DocOK(docFile) {
			report = append(report, fmt.Sprintf("%s: already documented", name))
			continue
		}
		childTarget := &Target{
			Module:  child,
			Path:    append(append([]string{}, t.Path...), child.Name),
			DocFile: docFile,
		}
		var err error
		if child.IsLeaf() {
			err = o.ProcessModule(ctx, childTarget)
		} else {
			err = o.GenerateParentDoc(ctx, childTarget)
		}
		if err != nil {
			report = append(report, fmt.Sprintf("%s: failed: %v", name, err))
			continue
		}
		report = append(report, fmt.Sprintf("%s: documented at %s", name, docFile))
	}
	out := ""
	for i, line := range report {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

// toolSchemas builds the tool manifest for the module. The sub-module tool
// is exposed to complex modules only.
func (o *apiOrchestrator) toolSchemas(t *Target) []llm.ToolSchema {
	tools := []llm.ToolSchema{
		{
			Name:        "read_code_components",
			Description: "Read the source code of the given component ids.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"component_ids": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["component_ids"]
			}`),
		},
		{
			Name:        "str_replace_editor",
			Description: "View, create and edit files. Writes are confined to the docs directory; view may also read the repository.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"op": {"type": "string", "enum": ["view", "create", "str_replace", "insert", "undo_edit"]},
					"path": {"type": "string"},
					"file_text": {"type": "string"},
					"old_str": {"type": "string"},
					"new_str": {"type": "string"},
					"insert_line": {"type": "integer"}
				},
				"required": ["op", "path"]
			}`),
		},
	}
	if o.complex(t.Module) {
		tools = append(tools, llm.ToolSchema{
			Name:        "generate_sub_module_documentation",
			Description: "Generate the documentation of the named direct child modules before synthesizing this one.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"module_names": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["module_names"]
			}`),
		})
	}
	return tools
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repowiki/repowiki/config"
	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/store"
	"github.com/repowiki/repowiki/types"
)

// scriptedGateway replays canned chat responses and records the requests.
type scriptedGateway struct {
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
	err       error
}

func (g *scriptedGateway) Generate(ctx context.Context, p llm.Purpose, prompt string) (string, error) {
	resp, err := g.Chat(ctx, p, &llm.ChatRequest{Messages: []llm.Message{llm.NewUserMessage(prompt)}})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (g *scriptedGateway) Chat(_ context.Context, _ llm.Purpose, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.requests) > len(g.responses) {
		return nil, fmt.Errorf("gateway script exhausted")
	}
	return g.responses[len(g.requests)-1], nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		FinishReason: "stop",
	}}}
}

func toolCallResponse(name string, args string) *llm.ChatResponse {
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:        "call-1",
				Name:      name,
				Arguments: json.RawMessage(args),
			}},
		},
		FinishReason: "tool_calls",
	}}}
}

func apiDeps(t *testing.T, gw llm.Invoker) (Deps, *types.Tree) {
	t.Helper()
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)

	leafMod := &types.Module{
		Name:         "parser",
		Description:  "source analysis",
		ComponentIDs: []string{"parse.File", "parse.Symbol"},
		DocStatus:    types.StatusAbsent,
		Children:     types.ModuleList{},
	}
	tree := &types.Tree{Modules: types.ModuleList{leafMod}}

	cfg := config.Default()
	cfg.DocsDir = st.DocsDir()
	cfg.BaseURL = "https://api.test"
	cfg.APIKey = "k"
	cfg.MainModel = "m"

	return Deps{
		Config:  cfg,
		Gateway: gw,
		Store:   st,
		Tree:    tree,
		Comps: types.ComponentMap{
			"parse.File":   {ID: "parse.File", FilePath: "parse/file.go", SourceCode: "func File() {}", TokenEstimate: 4},
			"parse.Symbol": {ID: "parse.Symbol", FilePath: "parse/symbol.go", SourceCode: "func Symbol() {}", TokenEstimate: 4},
		},
		DocFiles: store.AssignDocFiles(tree),
	}, tree
}

func TestAgentLoopReadsThenCreates(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ChatResponse{
		toolCallResponse("read_code_components", `{"component_ids":["parse.File"]}`),
		toolCallResponse("str_replace_editor", `{"op":"create","path":"parser.md","file_text":"# Parser\n\nReads source files into components.\n"}`),
		textResponse("done"),
	}}
	deps, tree := apiDeps(t, gw)
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	require.NoError(t, o.ProcessModule(context.Background(), target))

	assert.True(t, deps.Store.DocOK("parser.md"))
	require.Len(t, gw.requests, 3)

	// Tool results flow back as tool-role messages.
	second := gw.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "func File()")

	// The system prompt orients the agent with the module tree.
	assert.Equal(t, llm.RoleSystem, gw.requests[0].Messages[0].Role)
	assert.Contains(t, gw.requests[0].Messages[0].Content, "parser")
}

func TestAgentMustCreateTheArtifact(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ChatResponse{
		textResponse("here is the doc inline, not written to a file"),
	}}
	deps, tree := apiDeps(t, gw)
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	err := o.ProcessModule(context.Background(), target)
	require.Error(t, err)
	assert.Equal(t, types.KindModuleFailed, types.KindOf(err))
}

func TestToolErrorsAreFedBackNotRaised(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ChatResponse{
		toolCallResponse("str_replace_editor", `{"op":"create","path":"../outside.md","file_text":"x"}`),
		toolCallResponse("str_replace_editor", `{"op":"create","path":"parser.md","file_text":"# Parser\n\nRecovered after the path error.\n"}`),
		textResponse("done"),
	}}
	deps, tree := apiDeps(t, gw)
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	require.NoError(t, o.ProcessModule(context.Background(), target))

	second := gw.requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Contains(t, last.Content, "error:")
	assert.Contains(t, last.Content, "outside the docs directory")
}

func TestUnknownToolReturnsErrorText(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.ChatResponse{
		toolCallResponse("launch_missiles", `{}`),
		toolCallResponse("str_replace_editor", `{"op":"create","path":"parser.md","file_text":"# Parser\n\nDoc.\n"}`),
		textResponse("done"),
	}}
	deps, tree := apiDeps(t, gw)
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	require.NoError(t, o.ProcessModule(context.Background(), target))

	second := gw.requests[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "unknown tool")
}

func TestComplexityGatesSubModuleTool(t *testing.T) {
	deps, tree := apiDeps(t, &scriptedGateway{})
	o := New(deps).(*apiOrchestrator)

	simple := tree.Modules[0]
	assert.False(t, o.complex(simple))

	var manyIDs []string
	for i := 0; i < 11; i++ {
		manyIDs = append(manyIDs, fmt.Sprintf("pkg.C%d", i))
	}
	big := &types.Module{Name: "big", ComponentIDs: manyIDs, Children: types.ModuleList{}}
	assert.True(t, o.complex(big))

	// Token-heavy modules are complex even with few components.
	deps.Comps["parse.File"].TokenEstimate = deps.Config.MaxTokens
	assert.True(t, o.complex(simple))

	simpleTools := o.toolSchemas(&Target{Module: big})
	names := map[string]bool{}
	for _, tool := range simpleTools {
		names[tool.Name] = true
	}
	assert.True(t, names["generate_sub_module_documentation"])
}

func TestLLMFailureBecomesModuleFailed(t *testing.T) {
	gw := &scriptedGateway{err: &llm.ExhaustedError{Errors: []llm.BackendError{{Backend: "api:m", Err: "down"}}}}
	deps, tree := apiDeps(t, gw)
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	err := o.ProcessModule(context.Background(), target)
	require.Error(t, err)
	assert.Equal(t, types.KindModuleFailed, types.KindOf(err))

	var ex *llm.ExhaustedError
	assert.ErrorAs(t, err, &ex)
}

func TestTurnBudgetExhausts(t *testing.T) {
	var responses []*llm.ChatResponse
	for i := 0; i < maxAgentTurns+1; i++ {
		responses = append(responses, toolCallResponse("read_code_components", `{"component_ids":["parse.File"]}`))
	}
	deps, tree := apiDeps(t, &scriptedGateway{responses: responses})
	o := New(deps)

	target := &Target{Module: tree.Modules[0], Path: []string{"parser"}, DocFile: "parser.md"}
	err := o.ProcessModule(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "turn budget")
}

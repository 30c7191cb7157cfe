// Package chatapi implements the HTTP chat-completions backend of the
// gateway cascade. One Provider speaks for one model name; the cascade
// holds a Provider per configured model (primary first, then fallbacks).
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/internal/tlsutil"
	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/llm/retry"
)

// attemptTimeout bounds a single HTTP attempt.
const attemptTimeout = 300 * time.Second

// Config holds the provider configuration.
type Config struct {
	// BaseURL is the API root (e.g. "https://api.example.com").
	BaseURL string
	// APIKey is sent as a bearer token.
	APIKey string
	// Model is the model name put on the wire.
	Model string
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
	// RetryObserver, when set, is notified of every retried attempt.
	RetryObserver llm.RetryObserver
}

// Provider is an OpenAI-compatible chat-completions client for one model.
type Provider struct {
	cfg     Config
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger
}

// New creates a chat-completions provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chatapi"), zap.String("model", cfg.Model))

	p := &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(0),
		logger: logger,
	}
	policy := retry.DefaultPolicy()
	policy.OnRetry = func(int, error, time.Duration) {
		if cfg.RetryObserver != nil {
			cfg.RetryObserver.ObserveLLMRetry(p.Name())
		}
	}
	p.retryer = retry.NewBackoffRetryer(policy, llm.IsRetryable, logger)
	return p
}

// Name identifies this backend in the cascade.
func (p *Provider) Name() string { return "api:" + p.cfg.Model }

// SupportsTools reports tool-call capability.
func (p *Provider) SupportsTools() bool { return true }

// wireRequest is the chat-completions request body.
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function llm.ToolSchema `json:"function"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.ChatUsage `json:"usage"`
}

// Complete performs one chat completion with retry on 429/5xx and
// transport errors. Other 4xx responses fail immediately.
func (p *Provider) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	payload, err := json.Marshal(p.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *llm.ChatResponse
	doErr := p.retryer.Do(ctx, func() error {
		var attemptErr error
		resp, attemptErr = p.attempt(ctx, payload)
		return attemptErr
	})
	if doErr != nil {
		return nil, doErr
	}
	return resp, nil
}

// attempt runs one HTTP round trip under the per-attempt timeout.
func (p *Provider) attempt(ctx context.Context, payload []byte) (*llm.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &llm.Error{Backend: p.Name(), Message: err.Error(), Retryable: true, Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, p.statusError(httpResp)
	}

	var wire wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{Backend: p.Name(), Message: "decode response: " + err.Error(), Retryable: true, Cause: err}
	}
	return p.fromWire(&wire), nil
}

// statusError maps a non-200 response to a backend error. 429 and 5xx are
// retryable; every other 4xx is terminal for this backend.
func (p *Provider) statusError(resp *http.Response) *llm.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return &llm.Error{
		Backend:    p.Name(),
		Message:    msg,
		HTTPStatus: resp.StatusCode,
		Retryable:  retryable,
	}
}

func (p *Provider) toWire(req *llm.ChatRequest) wireRequest {
	out := wireRequest{
		Model:       p.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(tc.Arguments)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{Type: "function", Function: t})
	}
	return out
}

func (p *Provider) fromWire(wire *wireResponse) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		ID:    wire.ID,
		Model: wire.Model,
		Usage: wire.Usage,
	}
	for _, c := range wire.Choices {
		msg := llm.Message{
			Role:    llm.Role(c.Message.Role),
			Content: c.Message.Content,
		}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			Message:      msg,
			FinishReason: c.FinishReason,
		})
	}
	return resp
}

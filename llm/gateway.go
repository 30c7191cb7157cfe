package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Invoker is the caller-facing surface of the gateway. The clusterer needs
// only Generate; the agent orchestrator additionally drives tool-call
// conversations through Chat.
type Invoker interface {
	Generate(ctx context.Context, purpose Purpose, prompt string) (string, error)
	Chat(ctx context.Context, purpose Purpose, req *ChatRequest) (*ChatResponse, error)
}

// Observer receives per-request outcomes for metrics. Implementations must
// be safe for concurrent use.
type Observer interface {
	ObserveLLMRequest(backend string, ok bool)
}

// RetryObserver receives per-retry notifications from backends that retry
// internally. Implementations must be safe for concurrent use.
type RetryObserver interface {
	ObserveLLMRetry(backend string)
}

// Gateway tries a configured sequence of backends in order and returns the
// first success. No ordering is guaranteed across concurrent calls.
type Gateway struct {
	backends []Backend
	caps     TokenCaps
	limiter  *rate.Limiter
	observer Observer
	logger   *zap.Logger
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithRateLimit paces outbound requests at the given requests per second.
// Zero or negative disables pacing.
func WithRateLimit(rps float64) Option {
	return func(g *Gateway) {
		if rps > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithObserver installs a metrics observer.
func WithObserver(obs Observer) Option {
	return func(g *Gateway) { g.observer = obs }
}

// NewGateway creates a gateway over the given cascade. Backends are tried
// in slice order.
func NewGateway(backends []Backend, caps TokenCaps, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		backends: backends,
		caps:     caps,
		logger:   logger.With(zap.String("component", "llm_gateway")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends a single-user-turn prompt and returns the text of the
// first successful backend response.
func (g *Gateway) Generate(ctx context.Context, purpose Purpose, prompt string) (string, error) {
	resp, err := g.Chat(ctx, purpose, &ChatRequest{
		Messages: []Message{NewUserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Chat runs the cascade for a full chat request. Backends that cannot carry
// the request (tool conversations on stdio backends) are skipped. On total
// failure the returned error is an *ExhaustedError listing every backend's
// error in cascade order.
func (g *Gateway) Chat(ctx context.Context, purpose Purpose, req *ChatRequest) (*ChatResponse, error) {
	if len(g.backends) == 0 {
		return nil, &ExhaustedError{Errors: []BackendError{{Backend: "none", Err: "no backends configured"}}}
	}

	attempt := *req
	if attempt.MaxTokens == 0 {
		attempt.MaxTokens = g.caps.For(purpose)
	}
	needTools := len(attempt.Tools) > 0

	var failures []BackendError
	for _, b := range g.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if needTools && !b.SupportsTools() {
			g.logger.Debug("skipping backend without tool support",
				zap.String("backend", b.Name()),
				zap.String("purpose", string(purpose)),
			)
			continue
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := b.Complete(ctx, &attempt)
		if err == nil && resp.Text() == "" && len(resp.ToolCalls()) == 0 {
			err = &Error{Backend: b.Name(), Message: "empty response"}
		}
		if g.observer != nil {
			g.observer.ObserveLLMRequest(b.Name(), err == nil)
		}
		if err == nil {
			g.logger.Debug("backend succeeded",
				zap.String("backend", b.Name()),
				zap.String("purpose", string(purpose)),
			)
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		g.logger.Warn("backend failed, trying next",
			zap.String("backend", b.Name()),
			zap.String("purpose", string(purpose)),
			zap.Error(err),
		)
		failures = append(failures, BackendError{Backend: b.Name(), Err: err.Error()})
	}

	if len(failures) == 0 {
		return nil, fmt.Errorf("no backend can serve tool request")
	}
	return nil, &ExhaustedError{Errors: failures}
}

// Package execbin implements the child-process stdio backend: the prompt
// is written to the command's standard input and the completion is read
// from its standard output.
package execbin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/llm"
)

// killDelay is how long a cancelled child gets between SIGTERM and SIGKILL.
const killDelay = 5 * time.Second

// Provider runs a configured command line as the LLM.
type Provider struct {
	command string
	workDir string
	logger  *zap.Logger
}

// New creates a stdio backend for the given shell command line. workDir may
// be empty to inherit the parent's working directory.
func New(command, workDir string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		command: command,
		workDir: workDir,
		logger:  logger.With(zap.String("component", "execbin")),
	}
}

// Name identifies this backend in the cascade.
func (p *Provider) Name() string { return "subprocess" }

// SupportsTools reports tool-call capability; stdio backends have none.
func (p *Provider) SupportsTools() bool { return false }

// Complete flattens the conversation to a single prompt, pipes it through
// the child process and returns its stdout. Success requires exit status
// zero and non-empty output. There is no wall-clock timeout; cancellation
// sends SIGTERM, then SIGKILL after the kill delay.
func (p *Provider) Complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	prompt := Flatten(req.Messages)
	output, err := p.Run(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: output},
			FinishReason: "stop",
		}},
	}, nil
}

// Run executes the command with the prompt on stdin and returns stdout.
func (p *Provider) Run(ctx context.Context, prompt string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", p.command)
	cmd.Dir = p.workDir
	cmd.Cancel = func() error {
		p.logger.Debug("signalling child on cancellation")
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &llm.Error{Backend: p.Name(), Message: "start: " + err.Error(), Cause: err}
	}

	// Prompts can exceed the OS pipe buffer; stream stdin from its own
	// goroutine while the collector above drains stdout.
	writeErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, strings.NewReader(prompt))
		if cerr := stdin.Close(); err == nil {
			err = cerr
		}
		writeErr <- err
	}()

	waitErr := cmd.Wait()
	if werr := <-writeErr; waitErr == nil && werr != nil {
		waitErr = fmt.Errorf("write prompt: %w", werr)
	}

	elapsed := time.Since(start)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		p.logger.Warn("child process failed",
			zap.Duration("elapsed", elapsed),
			zap.Error(waitErr),
		)
		return "", &llm.Error{Backend: p.Name(), Message: msg, Cause: waitErr}
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return "", &llm.Error{Backend: p.Name(), Message: "empty output"}
	}

	p.logger.Debug("child process completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("output_bytes", len(out)),
	)
	return out, nil
}

// Flatten joins a conversation into one stdin prompt: system turns first,
// then the remaining turns in order, separated by blank lines.
func Flatten(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != llm.RoleSystem {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

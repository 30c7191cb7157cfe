// Package config defines and loads the engine configuration.
//
// Precedence: defaults, then YAML file, then REPOWIKI_-prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/repowiki/repowiki/types"
)

// Config is the validated engine configuration.
type Config struct {
	// DocsDir is the output directory for the module tree and Markdown.
	DocsDir string `yaml:"docs_dir" env:"DOCS_DIR"`
	// RepoDir is the analyzed repository root, readable by agent tools.
	RepoDir string `yaml:"repo_dir" env:"REPO_DIR"`

	// MaxTokens caps document-generation responses.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// MaxTokenPerModule caps clustering responses.
	MaxTokenPerModule int `yaml:"max_token_per_module" env:"MAX_TOKEN_PER_MODULE"`
	// MaxTokenPerLeafModule is the token budget that drives clustering.
	MaxTokenPerLeafModule int `yaml:"max_token_per_leaf_module" env:"MAX_TOKEN_PER_LEAF_MODULE"`
	// MaxDepth bounds the module tree depth.
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// Concurrency bounds in-flight leaf generations.
	Concurrency int `yaml:"concurrency" env:"CONCURRENCY"`

	// MainModel is the primary HTTP model name.
	MainModel string `yaml:"main_model" env:"MAIN_MODEL"`
	// FallbackModels are tried in order after the primary.
	FallbackModels []string `yaml:"fallback_models" env:"FALLBACK_MODELS"`
	// BaseURL is the chat-completions API root.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey is the bearer token for the HTTP backends.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// AgentCmd, when set, selects subprocess mode and heads the cascade.
	AgentCmd string `yaml:"agent_cmd" env:"AGENT_CMD"`

	// RequestsPerSecond paces outbound LLM requests; zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// CustomInstructions is appended verbatim to every system prompt.
	CustomInstructions string `yaml:"custom_instructions" env:"CUSTOM_INSTRUCTIONS"`
	// CommitID is stamped into metadata.json untouched.
	CommitID string `yaml:"commit_id" env:"COMMIT_ID"`
	// FailFast stops the run at the first module failure.
	FailFast bool `yaml:"fail_fast" env:"FAIL_FAST"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		MaxTokens:             8192,
		MaxTokenPerModule:     4096,
		MaxTokenPerLeafModule: 16000,
		MaxDepth:              4,
		Concurrency:           4,
	}
}

// SubprocessMode reports whether the run uses the external agent command.
func (c *Config) SubprocessMode() bool {
	return strings.TrimSpace(c.AgentCmd) != ""
}

// HTTPConfigured reports whether the HTTP backends are usable.
func (c *Config) HTTPConfigured() bool {
	return c.BaseURL != "" && c.APIKey != "" && c.MainModel != ""
}

// Validate checks the configuration; failures are fatal before the run
// starts.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return types.NewError(types.KindConfigInvalid, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(c.DocsDir) == "" {
		return invalid("docs_dir is required")
	}
	if !c.SubprocessMode() && !c.HTTPConfigured() {
		return invalid("no usable backend: set agent_cmd, or base_url + api_key + main_model")
	}
	if c.Concurrency < 1 {
		return invalid("concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxDepth < 0 {
		return invalid("max_depth must be >= 0, got %d", c.MaxDepth)
	}
	if c.MaxTokens <= 0 {
		return invalid("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.MaxTokenPerModule <= 0 {
		return invalid("max_token_per_module must be positive, got %d", c.MaxTokenPerModule)
	}
	if c.MaxTokenPerLeafModule <= 0 {
		return invalid("max_token_per_leaf_module must be positive, got %d", c.MaxTokenPerLeafModule)
	}
	if c.RequestsPerSecond < 0 {
		return invalid("requests_per_second must not be negative")
	}
	return nil
}

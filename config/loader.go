package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every override variable name.
const EnvPrefix = "REPOWIKI"

// Loader builds a Config from defaults, an optional YAML file and
// environment overrides.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the default environment prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: EnvPrefix}
}

// WithConfigPath sets the YAML file to load. An empty path skips the file
// layer entirely.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration. The result is validated.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadLenient()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLenient resolves the configuration layers without validating, for
// callers that overlay further values (CLI flags) before validation.
func (l *Loader) LoadLenient() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays REPOWIKI_* variables onto the config.
func (l *Loader) applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(l.envPrefix + "_" + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(l.envPrefix + "_" + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s_%s: %w", l.envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("DOCS_DIR", &cfg.DocsDir)
	str("REPO_DIR", &cfg.RepoDir)
	str("MAIN_MODEL", &cfg.MainModel)
	str("BASE_URL", &cfg.BaseURL)
	str("API_KEY", &cfg.APIKey)
	str("AGENT_CMD", &cfg.AgentCmd)
	str("CUSTOM_INSTRUCTIONS", &cfg.CustomInstructions)
	str("COMMIT_ID", &cfg.CommitID)

	if v, ok := os.LookupEnv(l.envPrefix + "_FALLBACK_MODELS"); ok {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		cfg.FallbackModels = models
	}
	if v, ok := os.LookupEnv(l.envPrefix + "_REQUESTS_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env %s_REQUESTS_PER_SECOND: %w", l.envPrefix, err)
		}
		cfg.RequestsPerSecond = f
	}
	if v, ok := os.LookupEnv(l.envPrefix + "_FAIL_FAST"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env %s_FAIL_FAST: %w", l.envPrefix, err)
		}
		cfg.FailFast = b
	}

	for key, dst := range map[string]*int{
		"MAX_TOKENS":                &cfg.MaxTokens,
		"MAX_TOKEN_PER_MODULE":      &cfg.MaxTokenPerModule,
		"MAX_TOKEN_PER_LEAF_MODULE": &cfg.MaxTokenPerLeafModule,
		"MAX_DEPTH":                 &cfg.MaxDepth,
		"CONCURRENCY":               &cfg.Concurrency,
	} {
		if err := integer(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// repowiki generates a hierarchical documentation wiki for a parsed
// repository by orchestrating LLM agents.
//
// Usage:
//
//	repowiki --components components.json --docs-dir ./docs [flags]
//
// Exit codes: 0 success, 2 partial success, 3 LLM exhausted entirely,
// 4 invalid config, 130 cancelled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/config"
	"github.com/repowiki/repowiki/engine"
	"github.com/repowiki/repowiki/scheduler"
	"github.com/repowiki/repowiki/types"
)

// Build metadata injected via ldflags.
var (
	version   = "dev"
	gitCommit = ""
)

// Exit codes.
const (
	exitOK            = 0
	exitPartial       = 2
	exitLLMExhausted  = 3
	exitInvalidConfig = 4
	exitCancelled     = 130
)

// componentsFile is the parser hand-off format.
type componentsFile struct {
	Components map[string]*types.Component `json:"components"`
	LeafSet    []string                    `json:"leaf_set"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     = flag.String("config", "", "YAML config file")
		componentsPath = flag.String("components", "", "components JSON from the parser")
		docsDir        = flag.String("docs-dir", "", "output directory")
		repoDir        = flag.String("repo-dir", "", "analyzed repository root")
		mainModel      = flag.String("main-model", "", "primary model name")
		fallbackModels = flag.String("fallback-models", "", "comma-separated fallback model names")
		baseURL        = flag.String("base-url", "", "chat-completions API root")
		agentCmd       = flag.String("agent-cmd", "", "external agent command (subprocess mode)")
		concurrency    = flag.Int("concurrency", 0, "parallel leaf generations")
		showVersion    = flag.Bool("version", false, "print version and exit")
		verbose        = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("repowiki %s", version)
		if gitCommit != "" {
			fmt.Printf(" (%s)", gitCommit)
		}
		fmt.Println()
		return exitOK
	}

	logger, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		return exitInvalidConfig
	}
	defer logger.Sync()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).LoadLenient()
	if err != nil {
		logger.Error("load config", zap.Error(err))
		return exitInvalidConfig
	}
	applyFlags(cfg, *docsDir, *repoDir, *mainModel, *fallbackModels, *baseURL, *agentCmd, *concurrency)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitInvalidConfig
	}

	if *componentsPath == "" {
		logger.Error("missing --components")
		return exitInvalidConfig
	}
	input, err := readComponents(*componentsPath)
	if err != nil {
		logger.Error("read components", zap.Error(err))
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, logger, engine.WithProgress(func(ev scheduler.Event) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %-5s %-8s %s\n", ev.Index, ev.Total, ev.Phase, ev.Kind, ev.ModuleName)
	}))

	result, runErr := eng.Run(ctx, input.Components, input.LeafSet)
	logger.Info("run finished",
		zap.Bool("ok", result.OK),
		zap.Int("modules_total", result.ModulesTotal),
		zap.Int("modules_done", result.ModulesDone),
		zap.Int("modules_failed", result.ModulesFailed),
	)

	switch {
	case result.Cancelled:
		return exitCancelled
	case runErr != nil:
		return exitInvalidConfig
	case result.LLMExhausted:
		return exitLLMExhausted
	case result.ModulesFailed > 0:
		return exitPartial
	default:
		return exitOK
	}
}

func applyFlags(cfg *config.Config, docsDir, repoDir, mainModel, fallbackModels, baseURL, agentCmd string, concurrency int) {
	if docsDir != "" {
		cfg.DocsDir = docsDir
	}
	if repoDir != "" {
		cfg.RepoDir = repoDir
	}
	if mainModel != "" {
		cfg.MainModel = mainModel
	}
	if fallbackModels != "" {
		var models []string
		for _, m := range strings.Split(fallbackModels, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		cfg.FallbackModels = models
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if agentCmd != "" {
		cfg.AgentCmd = agentCmd
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("REPOWIKI_API_KEY")
	}
}

func readComponents(path string) (*componentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var input componentsFile
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if input.Components == nil {
		input.Components = map[string]*types.Component{}
	}
	return &input, nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

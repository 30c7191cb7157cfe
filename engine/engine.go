// Package engine wires the clusterer, tree store, scheduler, orchestrator
// and LLM gateway into one run over a parsed repository.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/repowiki/repowiki/cluster"
	"github.com/repowiki/repowiki/config"
	"github.com/repowiki/repowiki/internal/metrics"
	"github.com/repowiki/repowiki/llm"
	"github.com/repowiki/repowiki/llm/providers/chatapi"
	"github.com/repowiki/repowiki/llm/providers/execbin"
	"github.com/repowiki/repowiki/llm/tokenizer"
	"github.com/repowiki/repowiki/orchestrator"
	"github.com/repowiki/repowiki/scheduler"
	"github.com/repowiki/repowiki/store"
	"github.com/repowiki/repowiki/types"
)

// emptyRepoNote is written when the repository has nothing to document and
// no backend could produce an overview.
const emptyRepoNote = "# Repository Overview\n\nThis repository contains no documentable components.\n"

// Result is the exit summary of one engine run.
type Result struct {
	OK            bool     `json:"ok"`
	ModulesTotal  int      `json:"modules_total"`
	ModulesDone   int      `json:"modules_done"`
	ModulesFailed int      `json:"modules_failed"`
	Errors        []string `json:"errors"`
	// LLMExhausted is set when nothing was generated because every backend
	// failed on every attempt.
	LLMExhausted bool `json:"llm_exhausted"`
	// Cancelled is set when the run stopped on the caller's signal.
	Cancelled bool `json:"cancelled"`
}

// Engine runs documentation synthesis for one repository.
type Engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	progress scheduler.ProgressFunc
	metrics  *metrics.Metrics
}

// Option customizes an Engine.
type Option func(*Engine)

// WithProgress installs a progress sink.
func WithProgress(fn scheduler.ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// WithMetricsRegistry registers the engine metrics with reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = metrics.New(reg) }
}

// New creates an engine for the given configuration.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(nil)
	}
	return e
}

// Run executes the full pipeline: cluster (or resume), generate, persist.
// The result is meaningful even on error; err is non-nil for invalid
// configuration, unusable output directory, or cancellation.
func (e *Engine) Run(ctx context.Context, comps types.ComponentMap, leafIDs []string) (*Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return &Result{Errors: []string{err.Error()}}, err
	}

	st, err := store.New(e.cfg.DocsDir, e.logger)
	if err != nil {
		return &Result{Errors: []string{err.Error()}}, err
	}

	comps = withTokenEstimates(comps)
	gateway := e.buildGateway()

	tree, err := e.loadOrCluster(ctx, st, gateway, comps, leafIDs)
	if err != nil {
		return &Result{Errors: []string{err.Error()}}, err
	}

	docFiles := store.AssignDocFiles(tree)
	orch := orchestrator.New(orchestrator.Deps{
		Config:   e.cfg,
		Gateway:  gateway,
		Store:    st,
		Tree:     tree,
		Comps:    comps,
		DocFiles: docFiles,
		Logger:   e.logger,
	})

	sched := scheduler.New(tree, st, orch, docFiles, scheduler.Options{
		Concurrency: e.cfg.Concurrency,
		FailFast:    e.cfg.FailFast,
	}, e.progress, e.metrics, e.logger)

	summary, runErr := sched.Run(ctx)
	cancelled := runErr != nil && types.IsCancelled(runErr)

	if !cancelled {
		e.finalizeArtifacts(st, tree, docFiles, &summary)
	}

	result := e.buildResult(tree, summary, cancelled)
	if metaErr := e.writeMetadata(st, tree, comps, leafIDs, result); metaErr != nil {
		e.logger.Warn("failed to write metadata", zap.Error(metaErr))
	}

	if cancelled {
		return result, runErr
	}
	return result, nil
}

// loadOrCluster resumes from the persisted tree or runs the clusterer and
// persists both snapshots.
func (e *Engine) loadOrCluster(ctx context.Context, st *store.Store, gateway llm.Invoker, comps types.ComponentMap, leafIDs []string) (*types.Tree, error) {
	if st.TreeExists() {
		tree, err := st.LoadTree()
		if err != nil {
			return nil, err
		}
		e.logger.Info("resuming from persisted module tree",
			zap.Int("modules", tree.CountModules()),
		)
		return tree, nil
	}

	clst := cluster.New(gateway, comps, cluster.Options{
		LeafBudget:         e.cfg.MaxTokenPerLeafModule,
		MaxDepth:           e.cfg.MaxDepth,
		RepoName:           repoName(e.cfg),
		CustomInstructions: e.cfg.CustomInstructions,
	}, e.logger)

	tree, warnings := clst.Build(ctx, leafIDs)
	for _, w := range warnings {
		e.logger.Warn("clustering degraded", zap.Error(w))
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.KindCancelled, "run cancelled during clustering").WithCause(err)
	}

	if err := st.SaveFirstTree(tree); err != nil {
		return nil, err
	}
	if err := st.SaveTree(tree); err != nil {
		return nil, err
	}
	e.logger.Info("module tree built",
		zap.Int("modules", tree.CountModules()),
		zap.Int("leaves", len(tree.Leaves())),
		zap.Int("depth", tree.Depth()),
	)
	return tree, nil
}

// buildGateway assembles the backend cascade: subprocess first when
// configured, then the primary HTTP model, then each fallback model.
func (e *Engine) buildGateway() *llm.Gateway {
	var backends []llm.Backend
	if e.cfg.SubprocessMode() {
		backends = append(backends, execbin.New(e.cfg.AgentCmd, e.cfg.DocsDir, e.logger))
	}
	if e.cfg.HTTPConfigured() {
		models := append([]string{e.cfg.MainModel}, e.cfg.FallbackModels...)
		for _, model := range models {
			backends = append(backends, chatapi.New(chatapi.Config{
				BaseURL:       e.cfg.BaseURL,
				APIKey:        e.cfg.APIKey,
				Model:         model,
				RetryObserver: e.metrics,
			}, e.logger))
		}
	}
	return llm.NewGateway(backends, llm.TokenCaps{
		MaxTokens:          e.cfg.MaxTokens,
		MaxTokensPerModule: e.cfg.MaxTokenPerModule,
	}, e.logger,
		llm.WithRateLimit(e.cfg.RequestsPerSecond),
		llm.WithObserver(e.metrics),
	)
}

// finalizeArtifacts handles the degenerate single-module rename and the
// empty-repository overview fallback.
func (e *Engine) finalizeArtifacts(st *store.Store, tree *types.Tree, docFiles map[*types.Module]string, summary *scheduler.Summary) {
	if !scheduler.SeparateOverview(tree) {
		m := tree.Modules[0]
		if m.DocStatus == types.StatusDone && m.DocPath != store.OverviewFile {
			if err := st.RenameDoc(m.DocPath, store.OverviewFile); err != nil {
				e.logger.Warn("failed to rename single-module doc to overview", zap.Error(err))
				return
			}
			m.DocPath = store.OverviewFile
			docFiles[m] = store.OverviewFile
			if err := st.SaveTree(tree); err != nil {
				e.logger.Warn("failed to persist renamed doc path", zap.Error(err))
			}
		}
		return
	}

	if len(tree.Modules) == 0 && !st.DocOK(store.OverviewFile) {
		if err := st.WriteDoc(store.OverviewFile, emptyRepoNote); err != nil {
			e.logger.Warn("failed to write empty-repository overview", zap.Error(err))
			return
		}
		// The generated overview failed; the static note replaces it.
		if summary.Failed > 0 {
			summary.Failed--
			summary.Done++
			if len(summary.Errors) > 0 {
				summary.Errors = summary.Errors[:len(summary.Errors)-1]
			}
		}
	}
}

// buildResult folds the scheduler summary into the exit result.
func (e *Engine) buildResult(tree *types.Tree, summary scheduler.Summary, cancelled bool) *Result {
	total := tree.CountModules()
	if scheduler.SeparateOverview(tree) {
		total++
	}

	errs := make([]string, 0, len(summary.Errors))
	exhausted := len(summary.Errors) > 0
	for _, err := range summary.Errors {
		errs = append(errs, err.Error())
		var ex *llm.ExhaustedError
		if !errors.As(err, &ex) {
			exhausted = false
		}
	}

	return &Result{
		OK:            !cancelled && summary.Failed == 0,
		ModulesTotal:  total,
		ModulesDone:   summary.Done + summary.Skipped,
		ModulesFailed: summary.Failed,
		Errors:        errs,
		LLMExhausted:  exhausted && summary.Done == 0,
		Cancelled:     cancelled,
	}
}

// writeMetadata rewrites metadata.json from the final tree state.
func (e *Engine) writeMetadata(st *store.Store, tree *types.Tree, comps types.ComponentMap, leafIDs []string, result *Result) error {
	files := []string{}
	if st.DocOK(store.OverviewFile) {
		files = append(files, store.OverviewFile)
	}
	tree.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		if m.DocStatus == types.StatusDone && m.DocPath != "" && m.DocPath != store.OverviewFile {
			files = append(files, m.DocPath)
		}
		return true
	})

	return st.WriteMetadata(&store.Metadata{
		GeneratedAt:    time.Now(),
		RunID:          uuid.NewString(),
		CommitID:       e.cfg.CommitID,
		MainModel:      e.cfg.MainModel,
		FallbackModels: e.cfg.FallbackModels,
		Counts:         store.CountsFor(tree, comps, leafIDs),
		Files:          files,
		Errors:         result.Errors,
	})
}

// withTokenEstimates returns a component map in which every component has
// a token estimate, defaulting to ceil(chars/4) of its source.
func withTokenEstimates(comps types.ComponentMap) types.ComponentMap {
	out := make(types.ComponentMap, len(comps))
	for id, c := range comps {
		if c.TokenEstimate > 0 {
			out[id] = c
			continue
		}
		copied := *c
		copied.TokenEstimate = tokenizer.Estimate(c.SourceCode)
		out[id] = &copied
	}
	return out
}

// repoName derives a display name for the repository from its directory.
func repoName(cfg *config.Config) string {
	if cfg.RepoDir == "" {
		return ""
	}
	name := filepath.Base(filepath.Clean(cfg.RepoDir))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}

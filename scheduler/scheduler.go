// Package scheduler drives documentation generation over the module tree:
// leaf modules run under a bounded semaphore, parents strictly after their
// descendants, the repository overview last. The in-memory tree and the
// on-disk tree file are mutated only by the scheduler goroutine; workers
// hand their results back over a channel.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/repowiki/repowiki/internal/metrics"
	"github.com/repowiki/repowiki/orchestrator"
	"github.com/repowiki/repowiki/store"
	"github.com/repowiki/repowiki/types"
)

// Kinds of work items reported in progress events.
const (
	KindLeaf     = "leaf"
	KindParent   = "parent"
	KindOverview = "overview"
)

// Phases of a module transition.
const (
	PhaseStart = "start"
	PhaseDone  = "done"
	PhaseSkip  = "skip"
	PhaseError = "error"
)

// Event is one advisory progress notification. Events for a single module
// are ordered start, then done/error; skipped modules emit only skip, and a
// parent blocked by incomplete descendants emits only error.
type Event struct {
	Index      int
	Total      int
	Phase      string
	ModuleName string
	ElapsedMS  int64
	Kind       string
}

// ProgressFunc receives progress events. It is invoked from the scheduler
// goroutine only; nil disables reporting.
type ProgressFunc func(Event)

// Options configures a run.
type Options struct {
	Concurrency int
	FailFast    bool
}

// Summary is the outcome of one scheduling run.
type Summary struct {
	Done    int
	Skipped int
	Failed  int
	Errors  []error
}

// Scheduler executes the generation plan. It never calls the LLM itself.
type Scheduler struct {
	tree     *types.Tree
	st       *store.Store
	orch     orchestrator.Orchestrator
	docFiles map[*types.Module]string
	opts     Options
	progress ProgressFunc
	metrics  *metrics.Metrics
	logger   *zap.Logger

	total     int
	nextIndex int
	summary   Summary
}

// New creates a scheduler.
func New(
	tree *types.Tree,
	st *store.Store,
	orch orchestrator.Orchestrator,
	docFiles map[*types.Module]string,
	opts Options,
	progress ProgressFunc,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tree:     tree,
		st:       st,
		orch:     orch,
		docFiles: docFiles,
		opts:     opts,
		progress: progress,
		metrics:  m,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// SeparateOverview reports whether the tree warrants a distinct overview
// document. The degenerate single-leaf tree reuses that module's document
// instead.
func SeparateOverview(tree *types.Tree) bool {
	return !(len(tree.Modules) == 1 && tree.Modules[0].IsLeaf())
}

// Run executes the plan. The returned summary is complete even when err is
// non-nil; err is non-nil only for cancellation.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	s.total = s.tree.CountModules()
	if SeparateOverview(s.tree) {
		s.total++
	}

	if err := s.runLeaves(ctx); err != nil {
		return s.summary, err
	}
	if s.opts.FailFast && s.summary.Failed > 0 {
		return s.summary, nil
	}
	if err := s.runParents(ctx); err != nil {
		return s.summary, err
	}
	if s.opts.FailFast && s.summary.Failed > 0 {
		return s.summary, nil
	}
	if SeparateOverview(s.tree) {
		if err := s.runOverview(ctx); err != nil {
			return s.summary, err
		}
	}
	return s.summary, nil
}

// workerMsg travels from a leaf worker back to the scheduler goroutine.
type workerMsg struct {
	started bool // true for the begin notice, false for the result
	mod     *types.Module
	path    []string
	err     error
	elapsed time.Duration
}

// runLeaves dispatches every pending leaf under the semaphore and folds
// results into the tree as they arrive.
func (s *Scheduler) runLeaves(ctx context.Context) error {
	type pendingLeaf struct {
		mod  *types.Module
		path []string
	}
	var pending []pendingLeaf

	s.tree.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		if !m.IsLeaf() {
			return true
		}
		if s.canSkip(m) {
			s.emit(Event{Index: s.claimIndex(), Total: s.total, Phase: PhaseSkip, ModuleName: m.Name, Kind: KindLeaf})
			s.summary.Skipped++
			return true
		}
		pending = append(pending, pendingLeaf{mod: m, path: s.tree.Path(m)})
		return true
	})
	if len(pending) == 0 {
		return ctx.Err()
	}

	sem := semaphore.NewWeighted(int64(s.opts.Concurrency))
	msgs := make(chan workerMsg)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()

	// The dispatcher only acquires the semaphore and launches workers; all
	// tree mutation happens below in this goroutine.
	dispatched := make(chan int, 1)
	go func() {
		launched := 0
		for _, p := range pending {
			if err := sem.Acquire(dispatchCtx, 1); err != nil {
				break
			}
			launched++
			go func(p pendingLeaf) {
				defer sem.Release(1)
				s.metrics.WorkerStarted()
				defer s.metrics.WorkerFinished()

				msgs <- workerMsg{started: true, mod: p.mod, path: p.path}
				begin := time.Now()
				err := s.orch.ProcessModule(dispatchCtx, &orchestrator.Target{
					Module:  p.mod,
					Path:    p.path,
					DocFile: s.docFiles[p.mod],
				})
				msgs <- workerMsg{mod: p.mod, path: p.path, err: err, elapsed: time.Since(begin)}
			}(p)
		}
		dispatched <- launched
	}()

	launched := -1
	finished := 0
	indexes := make(map[*types.Module]int)
	for launched < 0 || finished < launched {
		select {
		case n := <-dispatched:
			launched = n
		case msg := <-msgs:
			if msg.started {
				idx := s.claimIndex()
				indexes[msg.mod] = idx
				msg.mod.DocStatus = types.StatusInProgress // set in memory; any later tree snapshot also writes it to disk
				s.emit(Event{Index: idx, Total: s.total, Phase: PhaseStart, ModuleName: msg.mod.Name, Kind: KindLeaf})
				continue
			}
			finished++
			s.finishModule(msg.mod, KindLeaf, indexes[msg.mod], msg.err, msg.elapsed)
			if msg.err != nil && s.opts.FailFast {
				stopDispatch()
			}
		}
	}

	if ctx.Err() != nil {
		return types.NewError(types.KindCancelled, "run cancelled during leaf generation").WithCause(ctx.Err())
	}
	return nil
}

// runParents executes parent modules bottom-up, one at a time, on the
// scheduler goroutine. A parent whose children are not all done is
// recorded as failed but never attempted.
func (s *Scheduler) runParents(ctx context.Context) error {
	var order []*types.Module
	var collect func(list types.ModuleList)
	collect = func(list types.ModuleList) {
		for _, m := range list {
			collect(m.Children)
			if !m.IsLeaf() {
				order = append(order, m)
			}
		}
	}
	collect(s.tree.Modules)

	for _, m := range order {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.KindCancelled, "run cancelled before parent generation").WithCause(err)
		}
		if s.canSkip(m) {
			s.emit(Event{Index: s.claimIndex(), Total: s.total, Phase: PhaseSkip, ModuleName: m.Name, Kind: KindParent})
			s.summary.Skipped++
			continue
		}
		if !childrenDone(m) {
			idx := s.claimIndex()
			err := types.NewError(types.KindModuleFailed, "descendants incomplete").WithModule(m.Name)
			s.summary.Failed++
			s.summary.Errors = append(s.summary.Errors, err)
			s.emit(Event{Index: idx, Total: s.total, Phase: PhaseError, ModuleName: m.Name, Kind: KindParent})
			s.logger.Warn("parent blocked by incomplete descendants", zap.String("module", m.Name))
			continue
		}

		idx := s.claimIndex()
		m.DocStatus = types.StatusInProgress
		s.emit(Event{Index: idx, Total: s.total, Phase: PhaseStart, ModuleName: m.Name, Kind: KindParent})
		begin := time.Now()
		err := s.orch.GenerateParentDoc(ctx, &orchestrator.Target{
			Module:  m,
			Path:    s.tree.Path(m),
			DocFile: s.docFiles[m],
		})
		s.finishModule(m, KindParent, idx, err, time.Since(begin))
		if err != nil {
			if types.IsCancelled(err) || ctx.Err() != nil {
				return types.NewError(types.KindCancelled, "run cancelled during parent generation").WithCause(err)
			}
			if s.opts.FailFast {
				return nil
			}
		}
	}
	return nil
}

// runOverview emits the repository overview after everything else.
func (s *Scheduler) runOverview(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return types.NewError(types.KindCancelled, "run cancelled before overview").WithCause(err)
	}

	idx := s.claimIndex()
	if s.st.DocOK(store.OverviewFile) && s.allModulesDone() {
		s.emit(Event{Index: idx, Total: s.total, Phase: PhaseSkip, ModuleName: "overview", Kind: KindOverview})
		s.summary.Skipped++
		return nil
	}

	s.emit(Event{Index: idx, Total: s.total, Phase: PhaseStart, ModuleName: "overview", Kind: KindOverview})
	begin := time.Now()
	err := s.orch.GenerateParentDoc(ctx, &orchestrator.Target{DocFile: store.OverviewFile})
	elapsed := time.Since(begin)

	if err != nil {
		if types.IsCancelled(err) || ctx.Err() != nil {
			return types.NewError(types.KindCancelled, "run cancelled during overview").WithCause(err)
		}
		s.summary.Failed++
		s.summary.Errors = append(s.summary.Errors, err)
		s.metrics.ObserveModule(KindOverview, false)
		s.emit(Event{Index: idx, Total: s.total, Phase: PhaseError, ModuleName: "overview", ElapsedMS: elapsed.Milliseconds(), Kind: KindOverview})
		return nil
	}

	s.summary.Done++
	s.metrics.ObserveModule(KindOverview, true)
	s.emit(Event{Index: idx, Total: s.total, Phase: PhaseDone, ModuleName: "overview", ElapsedMS: elapsed.Milliseconds(), Kind: KindOverview})
	return nil
}

// finishModule folds one generation outcome into the tree, persists it and
// reports progress. A failure is not saved by this call, but the next
// successful module's tree snapshot writes the failed status to disk; a
// future run retries every module that is not done either way.
func (s *Scheduler) finishModule(m *types.Module, kind string, idx int, err error, elapsed time.Duration) {
	if err != nil {
		if !types.IsCancelled(err) {
			m.DocStatus = types.StatusFailed // saved by the next successful tree snapshot
			s.summary.Failed++
			s.summary.Errors = append(s.summary.Errors, fmt.Errorf("module %q: %w", m.Name, err))
			s.metrics.ObserveModule(kind, false)
			s.emit(Event{Index: idx, Total: s.total, Phase: PhaseError, ModuleName: m.Name, ElapsedMS: elapsed.Milliseconds(), Kind: kind})
			s.logger.Error("module generation failed",
				zap.String("module", m.Name),
				zap.Error(err),
			)
		}
		return
	}

	m.DocStatus = types.StatusDone
	m.DocPath = s.docFiles[m]
	if saveErr := s.st.SaveTree(s.tree); saveErr != nil {
		m.DocStatus = types.StatusFailed
		m.DocPath = ""
		s.summary.Failed++
		s.summary.Errors = append(s.summary.Errors, saveErr)
		s.metrics.ObserveModule(kind, false)
		s.emit(Event{Index: idx, Total: s.total, Phase: PhaseError, ModuleName: m.Name, ElapsedMS: elapsed.Milliseconds(), Kind: kind})
		return
	}

	s.summary.Done++
	s.metrics.ObserveModule(kind, true)
	s.emit(Event{Index: idx, Total: s.total, Phase: PhaseDone, ModuleName: m.Name, ElapsedMS: elapsed.Milliseconds(), Kind: kind})
}

// canSkip implements resume: done modules with an intact artifact are not
// regenerated.
func (s *Scheduler) canSkip(m *types.Module) bool {
	return m.DocStatus == types.StatusDone && s.st.DocOK(m.DocPath)
}

func childrenDone(m *types.Module) bool {
	for _, c := range m.Children {
		if c.DocStatus != types.StatusDone {
			return false
		}
		if !childrenDone(c) {
			return false
		}
	}
	return true
}

func (s *Scheduler) allModulesDone() bool {
	done := true
	s.tree.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		if m.DocStatus != types.StatusDone {
			done = false
			return false
		}
		return true
	})
	return done
}

func (s *Scheduler) claimIndex() int {
	s.nextIndex++
	return s.nextIndex
}

func (s *Scheduler) emit(ev Event) {
	if s.progress != nil {
		s.progress(ev)
	}
	s.logger.Info("progress",
		zap.Int("index", ev.Index),
		zap.Int("total", ev.Total),
		zap.String("phase", ev.Phase),
		zap.String("module", ev.ModuleName),
		zap.String("kind", ev.Kind),
	)
}

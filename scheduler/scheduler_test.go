package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repowiki/repowiki/orchestrator"
	"github.com/repowiki/repowiki/store"
	"github.com/repowiki/repowiki/types"
)

// fakeOrchestrator writes a canned document per module and records call
// order and concurrency.
type fakeOrchestrator struct {
	st        *store.Store
	mu        sync.Mutex
	calls     []string
	failOn    map[string]error
	blockOn   map[string]chan struct{}
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
	leafDelay time.Duration
}

func newFakeOrchestrator(st *store.Store) *fakeOrchestrator {
	return &fakeOrchestrator{
		st:      st,
		failOn:  map[string]error{},
		blockOn: map[string]chan struct{}{},
	}
}

func (f *fakeOrchestrator) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeOrchestrator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeOrchestrator) generate(ctx context.Context, t *orchestrator.Target) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.record(t.Name())
	if ch, ok := f.blockOn[t.Name()]; ok {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.leafDelay > 0 {
		select {
		case <-time.After(f.leafDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := f.failOn[t.Name()]; ok {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.st.WriteDoc(t.DocFile, fmt.Sprintf("# %s\n\nGenerated documentation body for %s.\n", t.Name(), t.Name()))
}

func (f *fakeOrchestrator) ProcessModule(ctx context.Context, t *orchestrator.Target) error {
	return f.generate(ctx, t)
}

func (f *fakeOrchestrator) GenerateParentDoc(ctx context.Context, t *orchestrator.Target) error {
	return f.generate(ctx, t)
}

func leaf(name string, ids ...string) *types.Module {
	return &types.Module{
		Name:         name,
		ComponentIDs: ids,
		DocStatus:    types.StatusAbsent,
		Children:     types.ModuleList{},
	}
}

func parent(name string, children ...*types.Module) *types.Module {
	return &types.Module{
		Name:         name,
		ComponentIDs: []string{},
		DocStatus:    types.StatusAbsent,
		Children:     children,
	}
}

type testRig struct {
	tree     *types.Tree
	st       *store.Store
	orch     *fakeOrchestrator
	docFiles map[*types.Module]string
	events   []Event
}

func newRig(t *testing.T, tree *types.Tree) *testRig {
	t.Helper()
	st, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	return &testRig{
		tree:     tree,
		st:       st,
		orch:     newFakeOrchestrator(st),
		docFiles: store.AssignDocFiles(tree),
	}
}

func (r *testRig) run(t *testing.T, ctx context.Context, opts Options) (Summary, error) {
	t.Helper()
	s := New(r.tree, r.st, r.orch, r.docFiles, opts, func(ev Event) {
		r.events = append(r.events, ev)
	}, nil, nil)
	return s.Run(ctx)
}

func (r *testRig) phases(phase string) []string {
	var out []string
	for _, ev := range r.events {
		if ev.Phase == phase {
			out = append(out, ev.ModuleName)
		}
	}
	return out
}

func TestLeavesThenParentThenOverview(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{
		parent("core", leaf("alpha", "a.X"), leaf("beta", "b.Y")),
	}}
	rig := newRig(t, tree)

	summary, err := rig.run(t, context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Done)
	assert.Zero(t, summary.Failed)

	done := rig.phases(PhaseDone)
	require.Len(t, done, 4)
	// Leaves in any order, then the parent, then the overview.
	assert.ElementsMatch(t, []string{"alpha", "beta"}, done[:2])
	assert.Equal(t, "core", done[2])
	assert.Equal(t, "overview", done[3])

	// P2/I2: the parent is done only with all children done.
	core := tree.Modules[0]
	assert.Equal(t, types.StatusDone, core.DocStatus)
	for _, c := range core.Children {
		assert.Equal(t, types.StatusDone, c.DocStatus)
	}

	// P8: overview exists after every module file.
	assert.True(t, rig.st.DocOK(store.OverviewFile))
	tree.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		assert.True(t, rig.st.DocOK(m.DocPath), m.Name)
		return true
	})
}

func TestConcurrencyOneIsDeterministic(t *testing.T) {
	build := func() *types.Tree {
		return &types.Tree{Modules: types.ModuleList{
			leaf("one", "a"), leaf("two", "b"), leaf("three", "c"),
		}}
	}

	var orders [][]string
	for i := 0; i < 2; i++ {
		rig := newRig(t, build())
		_, err := rig.run(t, context.Background(), Options{Concurrency: 1})
		require.NoError(t, err)
		orders = append(orders, append([]string{}, rig.orch.calls...))
	}
	assert.Equal(t, orders[0], orders[1], "concurrency=1 must give a deterministic order")
	assert.Equal(t, []string{"one", "two", "three", "repository overview"}, orders[0])
}

func TestSemaphoreBoundsInFlight(t *testing.T) {
	var modules types.ModuleList
	for i := 0; i < 12; i++ {
		modules = append(modules, leaf(fmt.Sprintf("m%02d", i), fmt.Sprintf("c%d", i)))
	}
	rig := newRig(t, &types.Tree{Modules: modules})
	rig.orch.leafDelay = 20 * time.Millisecond

	_, err := rig.run(t, context.Background(), Options{Concurrency: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, rig.orch.maxSeen.Load(), int32(3), "P7: no more than N generations in flight")
}

func TestResumeSkipsDoneModules(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{
		parent("core", leaf("alpha", "a.X"), leaf("beta", "b.Y")),
	}}
	rig := newRig(t, tree)

	_, err := rig.run(t, context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)
	firstCalls := rig.orch.callCount()
	require.Equal(t, 4, firstCalls)

	// Delete only the overview, then rerun: exactly one generation.
	require.NoError(t, rig.st.RenameDoc(store.OverviewFile, "gone.md"))
	rig.events = nil
	summary, err := rig.run(t, context.Background(), Options{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, firstCalls+1, rig.orch.callCount(), "only the overview regenerates")
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, []string{"alpha", "beta", "core"}, rig.phases(PhaseSkip))
}

func TestFailedLeafBlocksParentButNotSiblings(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{
		parent("core", leaf("alpha", "a.X"), leaf("beta", "b.Y")),
		leaf("solo", "s.Z"),
	}}
	rig := newRig(t, tree)
	rig.orch.failOn["alpha"] = errors.New("generation broke")

	summary, err := rig.run(t, context.Background(), Options{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Failed, "alpha and its blocked parent")
	assert.GreaterOrEqual(t, summary.Done, 2, "beta and solo still complete")
	assert.Equal(t, types.StatusDone, tree.Modules[1].DocStatus)

	core := tree.Modules[0]
	assert.NotEqual(t, types.StatusDone, core.DocStatus)
	assert.Empty(t, core.DocPath)

	// The failed module keeps no artifact.
	assert.False(t, rig.st.DocOK("alpha.md"))
}

func TestCancellationPreservesPartialState(t *testing.T) {
	gate := make(chan struct{})
	tree := &types.Tree{Modules: types.ModuleList{
		leaf("first", "a"), leaf("second", "b"), leaf("third", "c"), leaf("fourth", "d"),
	}}
	rig := newRig(t, tree)
	rig.orch.blockOn["third"] = gate

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let the first two finish, then cancel while third is blocked.
		for rig.orch.callCount() < 3 {
			time.Sleep(time.Millisecond)
		}
		cancel()
		close(gate)
	}()

	summary, err := rig.run(t, ctx, Options{Concurrency: 1})
	require.Error(t, err)
	assert.Equal(t, types.KindCancelled, types.KindOf(err))
	assert.Equal(t, 2, summary.Done)

	// On-disk state reflects exactly the completed modules.
	loaded, loadErr := rig.st.LoadTree()
	require.NoError(t, loadErr)
	doneCount := 0
	loaded.Walk(func(m *types.Module, _ *types.Module, _ int) bool {
		if m.DocStatus == types.StatusDone {
			doneCount++
			assert.True(t, rig.st.DocOK(m.DocPath))
		}
		return true
	})
	assert.Equal(t, 2, doneCount)
	assert.False(t, rig.st.DocOK(store.OverviewFile))
}

func TestFailFastStopsDispatch(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{
		leaf("one", "a"), leaf("two", "b"), leaf("three", "c"),
	}}
	rig := newRig(t, tree)
	rig.orch.failOn["one"] = errors.New("broken")

	summary, err := rig.run(t, context.Background(), Options{Concurrency: 1, FailFast: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Less(t, rig.orch.callCount(), 4, "dispatch stops after the first failure")
}

func TestSingleLeafTreeHasNoSeparateOverview(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{leaf("only", "a")}}
	assert.False(t, SeparateOverview(tree))

	rig := newRig(t, tree)
	summary, err := rig.run(t, context.Background(), Options{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)
	assert.Equal(t, 1, rig.orch.callCount())
}

func TestEventOrderingPerModule(t *testing.T) {
	tree := &types.Tree{Modules: types.ModuleList{leaf("solo", "a")}}
	rig := newRig(t, tree)
	_, err := rig.run(t, context.Background(), Options{Concurrency: 1})
	require.NoError(t, err)

	var phases []string
	for _, ev := range rig.events {
		if ev.ModuleName == "solo" {
			phases = append(phases, ev.Phase)
		}
	}
	assert.Equal(t, []string{PhaseStart, PhaseDone}, phases)
}

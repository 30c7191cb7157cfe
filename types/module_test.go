package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sampleTree() *Tree {
	return &Tree{Modules: ModuleList{
		{
			Name:         "core",
			Description:  "core runtime",
			ComponentIDs: []string{},
			DocStatus:    StatusAbsent,
			Children: ModuleList{
				{
					Name:         "scheduler",
					Description:  "execution order",
					ComponentIDs: []string{"pkg.sched.Run", "pkg.sched.New"},
					DocStatus:    StatusDone,
					DocPath:      "scheduler.md",
					Children:     ModuleList{},
				},
				{
					Name:         "store",
					ComponentIDs: []string{"pkg.store.Save"},
					DocStatus:    StatusAbsent,
					Children:     ModuleList{},
				},
			},
		},
		{
			Name:         "io",
			Description:  "input and output",
			ComponentIDs: []string{"pkg.io.Read"},
			DocStatus:    StatusFailed,
			Children:     ModuleList{},
		},
	}}
}

func TestTreeJSONRoundTrip(t *testing.T) {
	tree := sampleTree()

	data, err := json.Marshal(tree)
	require.NoError(t, err)

	loaded := &Tree{}
	require.NoError(t, json.Unmarshal(data, loaded))

	again, err := json.Marshal(loaded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again), "save/load/save must be byte-stable")

	require.Len(t, loaded.Modules, 2)
	assert.Equal(t, "core", loaded.Modules[0].Name)
	assert.Equal(t, "io", loaded.Modules[1].Name)

	sched := loaded.Modules[0].Child("scheduler")
	require.NotNil(t, sched)
	assert.Equal(t, StatusDone, sched.DocStatus)
	assert.Equal(t, "scheduler.md", sched.DocPath)
	assert.Equal(t, []string{"pkg.sched.Run", "pkg.sched.New"}, sched.ComponentIDs)
}

func TestTreeJSONPreservesSiblingOrder(t *testing.T) {
	tree := &Tree{Modules: ModuleList{
		{Name: "zeta", Children: ModuleList{}},
		{Name: "alpha", Children: ModuleList{}},
		{Name: "mid", Children: ModuleList{}},
	}}
	data, err := json.Marshal(tree)
	require.NoError(t, err)

	loaded := &Tree{}
	require.NoError(t, json.Unmarshal(data, loaded))
	var names []string
	for _, m := range loaded.Modules {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestEmptyTreeMarshalsToEmptyObject(t *testing.T) {
	data, err := json.Marshal(&Tree{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	loaded := &Tree{}
	require.NoError(t, json.Unmarshal([]byte("{}"), loaded))
	assert.Empty(t, loaded.Modules)
}

func TestWalkDepthAndCounts(t *testing.T) {
	tree := sampleTree()

	depths := map[string]int{}
	tree.Walk(func(m *Module, _ *Module, depth int) bool {
		depths[m.Name] = depth
		return true
	})
	assert.Equal(t, 0, depths["core"])
	assert.Equal(t, 0, depths["io"])
	assert.Equal(t, 1, depths["scheduler"])

	assert.Equal(t, 4, tree.CountModules())
	assert.Equal(t, 1, tree.Depth())

	leaves := tree.Leaves()
	require.Len(t, leaves, 3)
	assert.Equal(t, "scheduler", leaves[0].Name)
}

func TestPath(t *testing.T) {
	tree := sampleTree()
	sched := tree.Modules[0].Child("scheduler")
	assert.Equal(t, []string{"core", "scheduler"}, tree.Path(sched))
	assert.Nil(t, tree.Path(&Module{Name: "stranger"}))
}

func genModule(t *rapid.T, depth int) *Module {
	m := &Module{
		Name:         rapid.StringMatching(`[a-z][a-z0-9 _-]{0,12}`).Draw(t, "name"),
		Description:  rapid.StringN(0, 24, 64).Draw(t, "desc"),
		ComponentIDs: rapid.SliceOfN(rapid.StringMatching(`[a-z]+\.[A-Z][a-zA-Z]{0,8}`), 0, 4).Draw(t, "ids"),
		DocStatus: rapid.SampledFrom([]DocStatus{
			StatusAbsent, StatusInProgress, StatusDone, StatusFailed,
		}).Draw(t, "status"),
		Children: ModuleList{},
	}
	if depth < 2 && rapid.Bool().Draw(t, "hasChildren") {
		n := rapid.IntRange(1, 3).Draw(t, "children")
		seen := map[string]bool{}
		for i := 0; i < n; i++ {
			c := genModule(t, depth+1)
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true
			m.Children = append(m.Children, c)
		}
	}
	return m
}

// Load(Save(tree)) is the identity on structure and Save is stable across
// the round trip.
func TestTreeRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := &Tree{Modules: ModuleList{}}
		seen := map[string]bool{}
		for i, n := 0, rapid.IntRange(0, 4).Draw(t, "roots"); i < n; i++ {
			m := genModule(t, 0)
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			tree.Modules = append(tree.Modules, m)
		}

		first, err := json.Marshal(tree)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		loaded := &Tree{}
		if err := json.Unmarshal(first, loaded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		second, err := json.Marshal(loaded)
		if err != nil {
			t.Fatalf("re-marshal: %v", err)
		}
		if string(first) != string(second) {
			t.Fatalf("round trip not byte-stable:\n%s\n%s", first, second)
		}
	})
}

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repowiki/repowiki/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return st
}

func testTree() *types.Tree {
	return &types.Tree{Modules: types.ModuleList{
		{
			Name:         "gateway",
			Description:  "LLM access",
			ComponentIDs: []string{"llm.Gateway"},
			DocStatus:    types.StatusDone,
			DocPath:      "gateway.md",
			Children:     types.ModuleList{},
		},
		{
			Name:         "engine",
			ComponentIDs: []string{},
			DocStatus:    types.StatusAbsent,
			Children: types.ModuleList{
				{
					Name:         "scheduler",
					ComponentIDs: []string{"sched.Run"},
					DocStatus:    types.StatusAbsent,
					Children:     types.ModuleList{},
				},
			},
		},
	}}
}

func TestSaveLoadTree(t *testing.T) {
	st := newTestStore(t)
	assert.False(t, st.TreeExists())

	require.NoError(t, st.SaveTree(testTree()))
	assert.True(t, st.TreeExists())

	loaded, err := st.LoadTree()
	require.NoError(t, err)
	require.Len(t, loaded.Modules, 2)
	assert.Equal(t, "gateway", loaded.Modules[0].Name)
	assert.Equal(t, types.StatusDone, loaded.Modules[0].DocStatus)
	require.NotNil(t, loaded.Modules[1].Child("scheduler"))
}

func TestSaveTreeIsAtomic(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveTree(testTree()))

	// No temp droppings survive a successful write.
	entries, err := os.ReadDir(st.DocsDir())
	require.NoError(t, err)
	for _, ent := range entries {
		assert.NotContains(t, ent.Name(), ".tmp-")
	}
}

func TestFirstTreeIsWriteOnce(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SaveFirstTree(testTree()))

	before, err := os.ReadFile(filepath.Join(st.DocsDir(), FirstTreeFile))
	require.NoError(t, err)

	changed := testTree()
	changed.Modules[0].DocStatus = types.StatusFailed
	require.NoError(t, st.SaveFirstTree(changed))

	after, err := os.ReadFile(filepath.Join(st.DocsDir(), FirstTreeFile))
	require.NoError(t, err)
	assert.Equal(t, before, after, "first tree must never mutate after creation")
}

func TestWriteDoc(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WriteDoc("gateway.md", "# Gateway\n\nDocs.\n"))

	content, err := st.ReadDoc("gateway.md")
	require.NoError(t, err)
	assert.Contains(t, content, "# Gateway")
	assert.True(t, st.DocOK("gateway.md"))
}

func TestWriteDocRejectsPathEscape(t *testing.T) {
	st := newTestStore(t)
	err := st.WriteDoc("../escape.md", "nope")
	require.Error(t, err)
	assert.Equal(t, types.KindFilesystem, types.KindOf(err))
}

func TestDocOK(t *testing.T) {
	st := newTestStore(t)
	assert.False(t, st.DocOK(""))
	assert.False(t, st.DocOK("missing.md"))

	require.NoError(t, st.WriteDoc("empty.md", ""))
	assert.False(t, st.DocOK("empty.md"))

	require.NoError(t, os.WriteFile(filepath.Join(st.DocsDir(), "binary.md"), []byte{0xff, 0xfe, 0x00}, 0o644))
	assert.False(t, st.DocOK("binary.md"))
}

func TestRenameDoc(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.WriteDoc("only.md", "# Only module\n"))
	require.NoError(t, st.RenameDoc("only.md", OverviewFile))
	assert.True(t, st.DocOK(OverviewFile))
	assert.False(t, st.DocOK("only.md"))
}

func TestWriteMetadata(t *testing.T) {
	st := newTestStore(t)
	tree := testTree()

	meta := &Metadata{
		GeneratedAt:    time.Date(2026, 3, 14, 9, 26, 53, 123456789, time.UTC),
		RunID:          "run-1",
		CommitID:       "abc123",
		MainModel:      "primary-model",
		FallbackModels: []string{"fallback-a"},
		Counts:         CountsFor(tree, types.ComponentMap{"llm.Gateway": {ID: "llm.Gateway"}}, []string{"llm.Gateway"}),
		Files:          []string{"overview.md", "gateway.md"},
	}
	require.NoError(t, st.WriteMetadata(meta))

	data, err := os.ReadFile(filepath.Join(st.DocsDir(), MetadataFile))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"generated_at": "2026-03-14T09:26:53Z"`)
	assert.Contains(t, s, `"commit_id": "abc123"`)
	assert.Contains(t, s, `"main_model": "primary-model"`)
	assert.Contains(t, s, `"errors": []`)
}

func TestCountsFor(t *testing.T) {
	tree := testTree()
	comps := types.ComponentMap{
		"llm.Gateway": {ID: "llm.Gateway"},
		"sched.Run":   {ID: "sched.Run"},
	}
	counts := CountsFor(tree, comps, []string{"llm.Gateway", "sched.Run"})
	assert.Equal(t, 2, counts.Components)
	assert.Equal(t, 2, counts.LeafNodes)
	assert.Equal(t, 3, counts.Modules)
	assert.Equal(t, 1, counts.MaxDepth)
}

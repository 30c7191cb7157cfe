// Package store is the durable, on-disk representation of the module tree
// and its generated documentation. Every write uses temp + fsync + rename
// so a crash at any point leaves the previous state intact.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/types"
)

// File names under the docs directory.
const (
	TreeFile      = "module_tree.json"
	FirstTreeFile = "first_module_tree.json"
	MetadataFile  = "metadata.json"
	OverviewFile  = "overview.md"
)

// Store persists the module tree and Markdown artifacts under one docs
// directory.
type Store struct {
	docsDir string
	logger  *zap.Logger
}

// New creates a store rooted at docsDir, creating the directory if needed.
func New(docsDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return nil, types.NewError(types.KindFilesystem, "create docs dir").WithCause(err)
	}
	return &Store{
		docsDir: docsDir,
		logger:  logger.With(zap.String("component", "store")),
	}, nil
}

// DocsDir returns the store root.
func (s *Store) DocsDir() string { return s.docsDir }

// TreeExists reports whether a live module tree is on disk.
func (s *Store) TreeExists() bool {
	info, err := os.Stat(filepath.Join(s.docsDir, TreeFile))
	return err == nil && info.Size() > 0
}

// LoadTree reads the live module tree.
func (s *Store) LoadTree() (*types.Tree, error) {
	data, err := os.ReadFile(filepath.Join(s.docsDir, TreeFile))
	if err != nil {
		return nil, types.NewError(types.KindFilesystem, "read module tree").WithCause(err)
	}
	tree := &types.Tree{}
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", TreeFile, err)
	}
	return tree, nil
}

// SaveTree atomically replaces the live module tree.
func (s *Store) SaveTree(tree *types.Tree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal module tree: %w", err)
	}
	return s.writeAtomic(TreeFile, data)
}

// SaveFirstTree writes the initial clustering snapshot. It never overwrites
// an existing snapshot.
func (s *Store) SaveFirstTree(tree *types.Tree) error {
	path := filepath.Join(s.docsDir, FirstTreeFile)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return types.NewError(types.KindFilesystem, "stat first tree").WithCause(err)
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("marshal first module tree: %w", err)
	}
	return s.writeAtomic(FirstTreeFile, data)
}

// WriteDoc atomically writes one Markdown artifact. The name must be a
// bare file name; writes never leave the docs directory.
func (s *Store) WriteDoc(name, content string) error {
	if filepath.Base(name) != name {
		return types.NewError(types.KindFilesystem, fmt.Sprintf("doc name %q escapes docs dir", name))
	}
	return s.writeAtomic(name, []byte(content))
}

// DocOK reports whether the named artifact exists, is non-empty and is
// valid UTF-8. Used by resume to decide whether a done module can be
// skipped.
func (s *Store) DocOK(name string) bool {
	if name == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(s.docsDir, name))
	return err == nil && len(data) > 0 && utf8.Valid(data)
}

// ReadDoc returns the content of a generated artifact.
func (s *Store) ReadDoc(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.docsDir, name))
	if err != nil {
		return "", types.NewError(types.KindFilesystem, "read doc").WithCause(err)
	}
	return string(data), nil
}

// RenameDoc atomically renames a generated artifact.
func (s *Store) RenameDoc(oldName, newName string) error {
	err := os.Rename(filepath.Join(s.docsDir, oldName), filepath.Join(s.docsDir, newName))
	if err != nil {
		return types.NewError(types.KindFilesystem, "rename doc").WithCause(err)
	}
	return nil
}

// writeAtomic writes data next to the target, fsyncs and renames over it.
func (s *Store) writeAtomic(name string, data []byte) error {
	wrapped := func(op string, err error) error {
		return types.NewError(types.KindFilesystem, fmt.Sprintf("%s %s", op, name)).WithCause(err)
	}

	tmp, err := os.CreateTemp(s.docsDir, "."+name+".tmp-*")
	if err != nil {
		return wrapped("create temp for", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrapped("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrapped("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return wrapped("close", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.docsDir, name)); err != nil {
		return wrapped("rename", err)
	}

	s.logger.Debug("wrote file atomically",
		zap.String("file", name),
		zap.Int("bytes", len(data)),
	)
	return nil
}

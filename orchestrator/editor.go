package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// editor implements the str_replace_editor tool. Writes are confined to
// the docs directory; view may additionally read under the repository
// root. Every result is a plain string handed back to the agent.
type editor struct {
	docsDir string
	repoDir string
	// history keeps the previous content of each edited file for undo_edit.
	history map[string][]string
}

func newEditor(docsDir, repoDir string) *editor {
	return &editor{
		docsDir: docsDir,
		repoDir: repoDir,
		history: make(map[string][]string),
	}
}

// editorArgs carries the decoded tool input. "command" is accepted as an
// alias for "op".
type editorArgs struct {
	Op         string `json:"op"`
	Command    string `json:"command"`
	Path       string `json:"path"`
	FileText   string `json:"file_text"`
	OldStr     string `json:"old_str"`
	NewStr     string `json:"new_str"`
	InsertLine int    `json:"insert_line"`
}

func (a *editorArgs) op() string {
	if a.Op != "" {
		return a.Op
	}
	return a.Command
}

// run dispatches one editor operation, returning the result or an error
// message as text. Tool errors are never raised.
func (e *editor) run(args *editorArgs) string {
	switch args.op() {
	case "view":
		return e.view(args.Path)
	case "create":
		return e.create(args.Path, args.FileText)
	case "str_replace":
		return e.strReplace(args.Path, args.OldStr, args.NewStr)
	case "insert":
		return e.insert(args.Path, args.InsertLine, args.NewStr)
	case "undo_edit":
		return e.undo(args.Path)
	default:
		return fmt.Sprintf("error: unknown op %q (expected view, create, str_replace, insert, undo_edit)", args.op())
	}
}

// resolveWrite resolves a path for writing: absolute, and strictly inside
// the docs directory.
func (e *editor) resolveWrite(path string) (string, error) {
	abs := e.resolve(path)
	if !within(abs, e.docsDir) {
		return "", fmt.Errorf("write path %q is outside the docs directory", path)
	}
	return abs, nil
}

// resolveRead resolves a path for reading: inside docs_dir or repo_dir.
func (e *editor) resolveRead(path string) (string, error) {
	abs := e.resolve(path)
	if within(abs, e.docsDir) || (e.repoDir != "" && within(abs, e.repoDir)) {
		return abs, nil
	}
	return "", fmt.Errorf("path %q is outside the readable directories", path)
}

// resolve anchors relative paths at the docs directory.
func (e *editor) resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.docsDir, path)
	}
	return filepath.Clean(path)
}

// within reports whether abs is root or below it.
func within(abs, root string) bool {
	root = filepath.Clean(root)
	if abs == root {
		return true
	}
	return strings.HasPrefix(abs, root+string(filepath.Separator))
}

func (e *editor) view(path string) string {
	abs, err := e.resolveRead(path)
	if err != nil {
		return "error: " + err.Error()
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "error: " + err.Error()
	}
	if info.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "error: " + err.Error()
		}
		names := make([]string, 0, len(entries))
		for _, ent := range entries {
			name := ent.Name()
			if ent.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return strings.Join(names, "\n")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "error: " + err.Error()
	}
	var b strings.Builder
	for i, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	return b.String()
}

func (e *editor) create(path, content string) string {
	abs, err := e.resolveWrite(path)
	if err != nil {
		return "error: " + err.Error()
	}
	if prev, readErr := os.ReadFile(abs); readErr == nil {
		e.push(abs, string(prev))
	}
	if err := e.writeAtomic(abs, content); err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("created %s (%d bytes)", path, len(content))
}

func (e *editor) strReplace(path, oldStr, newStr string) string {
	abs, err := e.resolveWrite(path)
	if err != nil {
		return "error: " + err.Error()
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "error: " + err.Error()
	}
	content := string(data)
	switch strings.Count(content, oldStr) {
	case 0:
		return "error: old_str not found in file"
	case 1:
	default:
		return "error: old_str occurs more than once; provide more context"
	}
	e.push(abs, content)
	if err := e.writeAtomic(abs, strings.Replace(content, oldStr, newStr, 1)); err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("replaced text in %s", path)
}

func (e *editor) insert(path string, afterLine int, text string) string {
	abs, err := e.resolveWrite(path)
	if err != nil {
		return "error: " + err.Error()
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "error: " + err.Error()
	}
	lines := strings.Split(string(data), "\n")
	if afterLine < 0 || afterLine > len(lines) {
		return fmt.Sprintf("error: insert_line %d out of range [0,%d]", afterLine, len(lines))
	}
	e.push(abs, string(data))
	updated := append([]string{}, lines[:afterLine]...)
	updated = append(updated, text)
	updated = append(updated, lines[afterLine:]...)
	if err := e.writeAtomic(abs, strings.Join(updated, "\n")); err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("inserted after line %d in %s", afterLine, path)
}

func (e *editor) undo(path string) string {
	abs, err := e.resolveWrite(path)
	if err != nil {
		return "error: " + err.Error()
	}
	stack := e.history[abs]
	if len(stack) == 0 {
		return "error: no edit to undo for " + path
	}
	prev := stack[len(stack)-1]
	e.history[abs] = stack[:len(stack)-1]
	if err := e.writeAtomic(abs, prev); err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("reverted last edit of %s", path)
}

func (e *editor) push(abs, content string) {
	e.history[abs] = append(e.history[abs], content)
}

// writeAtomic writes content via temp + rename so cancellation never
// leaves a partial file.
func (e *editor) writeAtomic(abs, content string) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".edit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, abs)
}

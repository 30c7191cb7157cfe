package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DocStatus tracks the generation state of one module's documentation.
type DocStatus string

const (
	StatusAbsent     DocStatus = "absent"
	StatusInProgress DocStatus = "in_progress"
	StatusDone       DocStatus = "done"
	StatusFailed     DocStatus = "failed"
)

// Module is one node of the documentation hierarchy. A module either owns
// components directly (leaf) or aggregates child modules (parent); never
// both.
type Module struct {
	Name         string     `json:"-"`
	Description  string     `json:"description"`
	ComponentIDs []string   `json:"components"`
	DocStatus    DocStatus  `json:"doc_status"`
	DocPath      string     `json:"doc_path"`
	Children     ModuleList `json:"children"`
}

// IsLeaf reports whether the module owns components directly.
func (m *Module) IsLeaf() bool { return len(m.Children) == 0 }

// Child returns the child with the given name, or nil.
func (m *Module) Child(name string) *Module {
	return m.Children.Get(name)
}

// ModuleList is an ordered collection of sibling modules. It marshals to a
// JSON object keyed by module name; insertion order is preserved on both
// marshal and unmarshal so that repeated save/load cycles are byte-stable.
type ModuleList []*Module

// Get returns the module with the given name, or nil.
func (l ModuleList) Get(name string) *Module {
	for _, m := range l {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// moduleJSON mirrors Module for (un)marshaling without recursing into the
// custom methods below.
type moduleJSON struct {
	Description  string     `json:"description"`
	ComponentIDs []string   `json:"components"`
	DocStatus    DocStatus  `json:"doc_status"`
	DocPath      string     `json:"doc_path"`
	Children     ModuleList `json:"children"`
}

// MarshalJSON encodes the list as a JSON object in list order.
func (l ModuleList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		ids := m.ComponentIDs
		if ids == nil {
			ids = []string{}
		}
		children := m.Children
		if children == nil {
			children = ModuleList{}
		}
		status := m.DocStatus
		if status == "" {
			status = StatusAbsent
		}
		body, err := json.Marshal(moduleJSON{
			Description:  m.Description,
			ComponentIDs: ids,
			DocStatus:    status,
			DocPath:      m.DocPath,
			Children:     children,
		})
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into an ordered list, preserving key
// order as encountered in the input.
func (l *ModuleList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("module list: expected JSON object, got %v", tok)
	}

	out := ModuleList{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("module list: expected string key, got %v", keyTok)
		}
		var body moduleJSON
		if err := dec.Decode(&body); err != nil {
			return fmt.Errorf("module %q: %w", name, err)
		}
		status := body.DocStatus
		if status == "" {
			status = StatusAbsent
		}
		out = append(out, &Module{
			Name:         name,
			Description:  body.Description,
			ComponentIDs: body.ComponentIDs,
			DocStatus:    status,
			DocPath:      body.DocPath,
			Children:     body.Children,
		})
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	*l = out
	return nil
}

// Tree is the root of the module hierarchy.
type Tree struct {
	Modules ModuleList
}

// MarshalJSON encodes the tree as the root-level module object.
func (t *Tree) MarshalJSON() ([]byte, error) {
	if t.Modules == nil {
		return []byte("{}"), nil
	}
	return t.Modules.MarshalJSON()
}

// UnmarshalJSON decodes the root-level module object.
func (t *Tree) UnmarshalJSON(data []byte) error {
	return t.Modules.UnmarshalJSON(data)
}

// Walk visits every module depth-first in tree order. The callback receives
// the module, its parent (nil for root modules) and its depth. Root modules
// are depth 0; their children depth 1. Returning false stops the walk.
func (t *Tree) Walk(fn func(m *Module, parent *Module, depth int) bool) {
	var visit func(list ModuleList, parent *Module, depth int) bool
	visit = func(list ModuleList, parent *Module, depth int) bool {
		for _, m := range list {
			if !fn(m, parent, depth) {
				return false
			}
			if !visit(m.Children, m, depth+1) {
				return false
			}
		}
		return true
	}
	visit(t.Modules, nil, 0)
}

// CountModules returns the total number of modules in the tree.
func (t *Tree) CountModules() int {
	n := 0
	t.Walk(func(*Module, *Module, int) bool { n++; return true })
	return n
}

// Leaves returns all leaf modules in tree order.
func (t *Tree) Leaves() []*Module {
	var out []*Module
	t.Walk(func(m *Module, _ *Module, _ int) bool {
		if m.IsLeaf() {
			out = append(out, m)
		}
		return true
	})
	return out
}

// Depth returns the maximum module depth in the tree (root modules are
// depth 0). An empty tree has depth 0.
func (t *Tree) Depth() int {
	max := 0
	t.Walk(func(_ *Module, _ *Module, depth int) bool {
		if depth > max {
			max = depth
		}
		return true
	})
	return max
}

// Path returns the names from root to the given module, or nil when the
// module is not part of the tree.
func (t *Tree) Path(target *Module) []string {
	var path []string
	var visit func(list ModuleList, trail []string) bool
	visit = func(list ModuleList, trail []string) bool {
		for _, m := range list {
			next := append(trail[:len(trail):len(trail)], m.Name)
			if m == target {
				path = next
				return true
			}
			if visit(m.Children, next) {
				return true
			}
		}
		return false
	}
	visit(t.Modules, nil)
	return path
}

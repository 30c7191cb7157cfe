package orchestrator

import (
	"bytes"
	"encoding/json"

	"github.com/repowiki/repowiki/types"
)

// payloadNode is one module in the contextual payload handed to the model
// for parent and overview synthesis. Only the direct children of the
// target carry their full generated Markdown; everything else appears as
// name, description and component count.
type payloadNode struct {
	name           string
	Description    string      `json:"description"`
	ComponentCount int         `json:"component_count"`
	IsTarget       bool        `json:"is_target,omitempty"`
	Documentation  string      `json:"documentation,omitempty"`
	Children       payloadList `json:"children,omitempty"`
}

// payloadList marshals as an object keyed by module name, preserving tree
// order.
type payloadList []*payloadNode

func (l payloadList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		type alias payloadNode
		body, err := json.Marshal((*alias)(n))
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// contextPayload renders the tree as indented JSON with the target's
// direct children inlined. A nil target module selects the repository
// overview, whose direct children are the root modules.
func (d *Deps) contextPayload(t *Target) (string, error) {
	directParent := t.Module

	var build func(list types.ModuleList, parent *types.Module) payloadList
	build = func(list types.ModuleList, parent *types.Module) payloadList {
		out := make(payloadList, 0, len(list))
		for _, m := range list {
			node := &payloadNode{
				name:           m.Name,
				Description:    m.Description,
				ComponentCount: countComponents(m),
				IsTarget:       m == directParent,
			}
			isDirectChild := (directParent == nil && parent == nil) || (parent != nil && parent == directParent)
			if isDirectChild && m.DocPath != "" {
				if doc, err := d.Store.ReadDoc(m.DocPath); err == nil {
					node.Documentation = doc
				}
			}
			node.Children = build(m.Children, m)
			out = append(out, node)
		}
		return out
	}

	data, err := json.MarshalIndent(build(d.Tree.Modules, nil), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// countComponents counts components owned by the module and its subtree.
func countComponents(m *types.Module) int {
	n := len(m.ComponentIDs)
	for _, c := range m.Children {
		n += countComponents(c)
	}
	return n
}

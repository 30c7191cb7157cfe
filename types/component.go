package types

// ComponentKind classifies a documentable source unit.
type ComponentKind string

const (
	KindFunction  ComponentKind = "function"
	KindClass     ComponentKind = "class"
	KindMethod    ComponentKind = "method"
	KindInterface ComponentKind = "interface"
	KindStruct    ComponentKind = "struct"
	KindEnum      ComponentKind = "enum"
	KindOther     ComponentKind = "other"
)

// Component is a documentable unit of source code supplied by the parser.
// Components are immutable for the duration of an engine run.
type Component struct {
	ID            string        `json:"id"`
	Kind          ComponentKind `json:"kind"`
	FilePath      string        `json:"file_path"`
	StartLine     int           `json:"start_line"`
	EndLine       int           `json:"end_line"`
	SourceCode    string        `json:"source_code"`
	DependsOn     []string      `json:"depends_on,omitempty"`
	TokenEstimate int           `json:"token_estimate,omitempty"`
}

// ComponentMap indexes components by their stable id.
type ComponentMap map[string]*Component

// TotalTokens sums the token estimates of the given ids. Unknown ids
// contribute zero.
func (m ComponentMap) TotalTokens(ids []string) int {
	total := 0
	for _, id := range ids {
		if c, ok := m[id]; ok {
			total += c.TokenEstimate
		}
	}
	return total
}

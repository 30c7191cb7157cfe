package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/repowiki/repowiki/types"
)

// Counts summarizes the generated tree for metadata.
type Counts struct {
	Components int `json:"components"`
	LeafNodes  int `json:"leaf_nodes"`
	Modules    int `json:"modules"`
	MaxDepth   int `json:"max_depth"`
}

// Metadata is the generation record written at the end of a run.
type Metadata struct {
	GeneratedAt    time.Time `json:"generated_at"`
	RunID          string    `json:"run_id"`
	CommitID       string    `json:"commit_id"`
	MainModel      string    `json:"main_model"`
	FallbackModels []string  `json:"fallback_models"`
	Counts         Counts    `json:"counts"`
	Files          []string  `json:"files"`
	Errors         []string  `json:"errors"`
}

// WriteMetadata atomically rewrites metadata.json. Timestamps are
// normalized to UTC RFC 3339.
func (s *Store) WriteMetadata(meta *Metadata) error {
	meta.GeneratedAt = meta.GeneratedAt.UTC().Truncate(time.Second)
	if meta.FallbackModels == nil {
		meta.FallbackModels = []string{}
	}
	if meta.Files == nil {
		meta.Files = []string{}
	}
	if meta.Errors == nil {
		meta.Errors = []string{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.writeAtomic(MetadataFile, data)
}

// CountsFor derives metadata counts from the tree and component inputs.
func CountsFor(tree *types.Tree, components types.ComponentMap, leafIDs []string) Counts {
	return Counts{
		Components: len(components),
		LeafNodes:  len(leafIDs),
		Modules:    tree.CountModules(),
		MaxDepth:   tree.Depth(),
	}
}

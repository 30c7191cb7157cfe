package llm

// Purpose tags what a gateway request is for. The gateway uses it only to
// select the output-token cap.
type Purpose string

const (
	PurposeCluster   Purpose = "cluster"
	PurposeLeafDoc   Purpose = "leaf_doc"
	PurposeOverview  Purpose = "overview"
	PurposeTranslate Purpose = "translate"
)

// TokenCaps holds the per-purpose output-token limits.
type TokenCaps struct {
	// MaxTokens bounds document generation (leaf, overview, translate).
	MaxTokens int
	// MaxTokensPerModule bounds clustering responses.
	MaxTokensPerModule int
}

// For returns the cap for the given purpose.
func (c TokenCaps) For(p Purpose) int {
	if p == PurposeCluster {
		return c.MaxTokensPerModule
	}
	return c.MaxTokens
}

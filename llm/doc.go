// Package llm is the provider-abstract gateway to language models.
//
// A Gateway owns an ordered cascade of backends (child-process stdio,
// primary HTTP model, fallback HTTP models) and returns the first
// successful response. Callers tag each request with a Purpose; the
// gateway uses the purpose only to select the output-token cap.
package llm

// Package repowiki provides a top-level convenience entry point for
// generating a documentation wiki from a parsed repository.
//
// Usage:
//
//	import "github.com/repowiki/repowiki"
//
//	result, err := repowiki.Run(ctx, cfg, components, leafSet)
//
// This is a thin wrapper around [engine.Engine]; both produce identical
// results. Use this package when you prefer the shorter import path.
package repowiki

import (
	"context"

	"go.uber.org/zap"

	"github.com/repowiki/repowiki/config"
	"github.com/repowiki/repowiki/engine"
	"github.com/repowiki/repowiki/types"
)

// Option configures the engine created by [Run].
type Option = engine.Option

// Result is the exit summary of one run.
type Result = engine.Result

// WithProgress installs a progress sink.
var WithProgress = engine.WithProgress

// WithMetricsRegistry registers engine metrics with a prometheus registerer.
var WithMetricsRegistry = engine.WithMetricsRegistry

// Run generates documentation for one repository with the default logger.
func Run(ctx context.Context, cfg *config.Config, comps types.ComponentMap, leafIDs []string, opts ...Option) (*Result, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	return engine.New(cfg, logger, opts...).Run(ctx, comps, leafIDs)
}

package preflight

import (
	"context"
	"strings"

	"taskbeat/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)}

	if strings.TrimSpace(cfg.API.Bind) != "" {
		results = append(results, CheckBindAddress("API listener", cfg.API.Bind))
	}

	if strings.TrimSpace(cfg.Beat.RedisURL) != "" {
		results = append(results, CheckRedis(ctx, cfg.Beat.RedisURL))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

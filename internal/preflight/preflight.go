package preflight

import (
	"context"
	"net/http"

	"fetchledger/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Advisory failures are reported but do not stop a run.
	Advisory bool
}

// Inputs carries run-specific values the checks need.
type Inputs struct {
	// RemainingBytes is the catalog size of artifacts not yet recorded.
	RemainingBytes int64
	Mirrors        []string
	Client         *http.Client
}

// RunAll executes every applicable check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, in Inputs) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if in.RemainingBytes > 0 {
		results = append(results, CheckFreeSpace("Free space", cfg.Paths.DownloadDir, in.RemainingBytes))
	}
	if len(in.Mirrors) > 0 {
		results = append(results, CheckMirrors(ctx, in.Client, in.Mirrors))
	}
	return results
}

// Blocking returns the failed checks that must stop a run.
func Blocking(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Advisory {
			out = append(out, r)
		}
	}
	return out
}

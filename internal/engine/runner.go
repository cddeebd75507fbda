package engine

import (
	"context"
	"log/slog"

	"github.com/mesh-intelligence/sfmirror/internal/schedule"
	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// FetcherSource resolves the fetch client for a credential name.
type FetcherSource func(credential string) (Fetcher, error)

// Runner is the scheduler trigger: one tick evaluates every schedule entry of
// every mapping sequentially and syncs the due ones. There is no overlap
// within a tick; a slow sync delays the entries behind it.
type Runner struct {
	loader   *Loader
	eval     *schedule.Evaluator
	fetchers FetcherSource
	log      *slog.Logger
}

// NewRunner builds a Runner. logger may be nil.
func NewRunner(loader *Loader, eval *schedule.Evaluator, fetchers FetcherSource, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{loader: loader, eval: eval, fetchers: fetchers, log: logger}
}

// Result reports what one tick did for one mapping.
type Result struct {
	Mapping string
	Synced  bool
	Err     error
}

// RunDue runs every due mapping now. An error in one mapping's pass aborts
// that mapping only; the tick carries on to the next. The returned results
// hold one entry per mapping that was due, in evaluation order.
func (r *Runner) RunDue(ctx context.Context, mappings []*types.Mapping) []Result {
	var results []Result

	for _, m := range mappings {
		if ctx.Err() != nil {
			return results
		}

		synced := false
		var failure error

		for idx := range m.Schedules {
			due, err := r.eval.IsDue(m, idx)
			if err != nil {
				r.log.Warn("schedule evaluation failed", "mapping", m.Name, "entry", idx, "error", err)
				continue
			}
			if !due {
				continue
			}

			if err := r.syncOnce(ctx, m); err != nil {
				r.log.Warn("sync failed", "mapping", m.Name, "error", err)
				failure = err
				break
			}
			synced = true

			if err := r.eval.OnRefreshCompleted(m, idx); err != nil {
				r.log.Warn("failed to advance schedule anchor", "mapping", m.Name, "entry", idx, "error", err)
			}
		}

		if synced || failure != nil {
			results = append(results, Result{Mapping: m.Name, Synced: synced, Err: failure})
		}
	}
	return results
}

func (r *Runner) syncOnce(ctx context.Context, m *types.Mapping) error {
	fetcher, err := r.fetchers(m.Credential)
	if err != nil {
		return err
	}
	return r.loader.LoadMapping(ctx, fetcher, m)
}

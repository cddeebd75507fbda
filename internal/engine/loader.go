// Package engine implements the mapping-driven synchronization core: the
// dependency-resolving record loader, the incremental upsert policy, and the
// scheduler trigger that runs due mappings.
//
// A sync pass starts at the mapping's master entity, fetches its full remote
// record set, and works the batch to a fixed point: records whose foreign-key
// targets are missing locally are deferred, the missing rows are loaded
// depth-first in id batches, and the deferred records are retried. The remote
// is always the source of truth; a row is updated only when the remote
// version is strictly newer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mesh-intelligence/sfmirror/internal/soql"
	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

const (
	// maxDepth caps the batch-settlement rounds of one mapping pass,
	// dependency sub-loads included. A well-formed mapping converges in a
	// handful of rounds; the cap is a guard against cyclic record
	// references, tripped without error so already upserted rows survive.
	maxDepth = 900

	// idBatchSize is the most ids one dependency fetch may carry, bounded by
	// the remote query length limit.
	idBatchSize = 249
)

// Fetcher executes a remote query and returns the full, ordered,
// de-duplicated record set, following continuation pages internally.
type Fetcher interface {
	Query(ctx context.Context, queryString string) ([]types.RawRecord, error)
}

// RecordStore is the local keyed record store.
type RecordStore interface {
	FindByRemoteID(ctx context.Context, localType, remoteID string) (types.Record, error)
	Insert(ctx context.Context, localType string, rec types.Record) error
	Update(ctx context.Context, localType, remoteID string, rec types.Record) error
	Count(ctx context.Context, localType string) (int64, error)
}

// StateStore persists sync progress between ticks.
type StateStore interface {
	SaveWatermark(ctx context.Context, mapping string, t time.Time) error
	SaveEntityState(ctx context.Context, mapping, localType string, lastRefresh time.Time, count int64) error
	StartRun(ctx context.Context, mapping string, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, inserted, updated int64, runErr error) error
}

// Loader runs sync passes against a record store.
type Loader struct {
	records RecordStore
	state   StateStore
	log     *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// New builds a Loader. logger and now may be nil.
func New(records RecordStore, state StateStore, logger *slog.Logger, now func() time.Time) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Loader{
		records: records,
		state:   state,
		log:     logger,
		now:     now,
		active:  make(map[string]bool),
	}
}

// runStats carries per-pass loader state: upsert counts and the settlement
// round budget, shared by every batch of the pass, dependency sub-loads
// included.
type runStats struct {
	inserted int64
	updated  int64
	rounds   int
}

// LoadMapping performs a full synchronization pass for the mapping: load the
// master entity (transitively loading everything it depends on), then advance
// the watermark and record the run. At most one pass per mapping runs at a
// time; a second caller gets types.ErrSyncInProgress.
//
// Failures abort the pass and propagate. Rows upserted before the failure
// remain; the pass is idempotent, so the recovery path is simply the next
// tick.
func (l *Loader) LoadMapping(ctx context.Context, f Fetcher, m *types.Mapping) error {
	if !l.begin(m.Name) {
		return fmt.Errorf("%w: %s", types.ErrSyncInProgress, m.Name)
	}
	defer l.end(m.Name)

	master, err := m.Master()
	if err != nil {
		return fmt.Errorf("mapping %s: %w", m.Name, err)
	}

	runID, err := l.state.StartRun(ctx, m.Name, l.now())
	if err != nil {
		return err
	}

	stats := &runStats{}
	loadErr := l.loadEntity(ctx, f, m, master, "", stats)

	if err := l.state.FinishRun(ctx, runID, l.now(), stats.inserted, stats.updated, loadErr); err != nil {
		l.log.Warn("failed to record sync run", "mapping", m.Name, "error", err)
	}
	if loadErr != nil {
		return fmt.Errorf("mapping %s: %w", m.Name, loadErr)
	}

	// Watermark: max last-refresh across entities, floored at the current
	// value, persisted only when it advanced.
	watermark := m.LastCompletedRefresh
	for _, e := range m.Entities {
		if e.LastRefresh.After(watermark) {
			watermark = e.LastRefresh
		}
	}
	if watermark.After(m.LastCompletedRefresh) {
		m.LastCompletedRefresh = watermark
		if err := l.state.SaveWatermark(ctx, m.Name, watermark); err != nil {
			return fmt.Errorf("mapping %s: %w", m.Name, err)
		}
	}

	l.log.Info("mapping synchronized",
		"mapping", m.Name, "inserted", stats.inserted, "updated", stats.updated)
	return nil
}

// loadEntity fetches the entity's records (optionally constrained by an
// already-encoded extra predicate), settles the batch, and raises the
// entity's stats.
func (l *Loader) loadEntity(ctx context.Context, f Fetcher, m *types.Mapping, e *types.MappedEntity, extra string, stats *runStats) error {
	query := soql.BuildQuery(m, e, extra, l.now())
	l.log.Debug("loading entity", "mapping", m.Name, "entity", e.Local, "query", query)

	raws, err := f.Query(ctx, query)
	if err != nil {
		return err
	}

	batch := make([]types.Record, 0, len(raws))
	for _, raw := range raws {
		batch = append(batch, e.Translate(raw))
	}
	if err := l.processBatch(ctx, f, m, e, batch, stats); err != nil {
		return err
	}

	count, err := l.records.Count(ctx, e.Local)
	if err != nil {
		return err
	}
	if count > e.RecordCount {
		e.RecordCount = count
	}
	if now := l.now(); now.After(e.LastRefresh) {
		e.LastRefresh = now
	}
	return l.state.SaveEntityState(ctx, m.Name, e.Local, e.LastRefresh, e.RecordCount)
}

// missingIDs is an ordered, de-duplicated accumulator of remote ids missing
// for one target entity.
type missingIDs struct {
	target *types.MappedEntity
	ids    []string
	seen   map[string]bool
}

func (ms *missingIDs) add(id string) {
	if !ms.seen[id] {
		ms.seen[id] = true
		ms.ids = append(ms.ids, id)
	}
}

// processBatch settles one translated batch as an explicit worklist loop:
// partition the batch into ready and deferred records, load the missing
// foreign-key targets depth-first, upsert the ready records, then retry the
// deferred ones. Every round draws on the one budget the pass carries, so
// mutually-referencing rows cannot keep sub-loads recursing; exhausting the
// budget abandons the remainder with a warning rather than failing the run.
func (l *Loader) processBatch(ctx context.Context, f Fetcher, m *types.Mapping, e *types.MappedEntity, batch []types.Record, stats *runStats) error {
	fks := e.ForeignKeys()

	for len(batch) > 0 {
		if stats.rounds >= maxDepth {
			l.log.Warn("dependency depth cap reached, abandoning remainder of batch",
				"mapping", m.Name, "entity", e.Local, "deferred", len(batch))
			return nil
		}
		stats.rounds++

		var ready, deferred []types.Record
		var missing []*missingIDs
		missingByTarget := make(map[string]*missingIDs)

		for _, rec := range batch {
			blocked := false
			for _, fk := range fks {
				id, _ := rec[fk.Local].(string)
				// A row referencing itself satisfies the reference by
				// landing.
				if id == "" || id == rec.RemoteID() {
					continue
				}
				target := m.Entity(fk.Target)
				_, err := l.records.FindByRemoteID(ctx, target.Local, id)
				if errors.Is(err, types.ErrNotFound) {
					blocked = true
					ms := missingByTarget[target.Local]
					if ms == nil {
						ms = &missingIDs{target: target, seen: make(map[string]bool)}
						missingByTarget[target.Local] = ms
						missing = append(missing, ms)
					}
					ms.add(id)
					continue
				}
				if err != nil {
					return err
				}
			}
			if blocked {
				deferred = append(deferred, rec)
			} else {
				ready = append(ready, rec)
			}
		}

		// Dependency sub-loads resolve fully, depth-first, before the
		// deferred records are retried, settling their own batches against
		// the same shared budget.
		for _, ms := range missing {
			for start := 0; start < len(ms.ids); start += idBatchSize {
				end := min(start+idBatchSize, len(ms.ids))
				extra := soql.IDBatchPredicate(ms.ids[start:end])
				if err := l.loadEntity(ctx, f, m, ms.target, extra, stats); err != nil {
					return err
				}
			}
		}

		for _, rec := range ready {
			if err := l.upsert(ctx, e, rec, stats); err != nil {
				return err
			}
		}

		batch = deferred
	}
	return nil
}

// upsert applies the incremental policy: insert when absent, update when the
// remote version is strictly newer, otherwise leave the row alone. Records
// without a remote identity are skipped: they cannot be keyed, and a mapping
// that omits the identity field is a configuration problem surfaced at
// validation time, not here.
func (l *Loader) upsert(ctx context.Context, e *types.MappedEntity, rec types.Record, stats *runStats) error {
	id := rec.RemoteID()
	if id == "" {
		l.log.Debug("skipping record without remote identity", "entity", e.Local)
		return nil
	}

	existing, err := l.records.FindByRemoteID(ctx, e.Local, id)
	if errors.Is(err, types.ErrNotFound) {
		if err := l.records.Insert(ctx, e.Local, rec); err != nil {
			return err
		}
		stats.inserted++
		return nil
	}
	if err != nil {
		return err
	}

	remoteTS, ok := rec.Modstamp()
	if !ok {
		return nil
	}
	if localTS, ok := existing.Modstamp(); ok && !localTS.Before(remoteTS) {
		return nil
	}
	if err := l.records.Update(ctx, e.Local, id, rec); err != nil {
		return err
	}
	stats.updated++
	return nil
}

func (l *Loader) begin(mapping string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[mapping] {
		return false
	}
	l.active[mapping] = true
	return true
}

func (l *Loader) end(mapping string) {
	l.mu.Lock()
	delete(l.active, mapping)
	l.mu.Unlock()
}

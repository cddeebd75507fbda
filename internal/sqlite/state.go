package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// timeLayout is the storage form for all state timestamps.
const timeLayout = time.RFC3339Nano

// LoadMappingState hydrates the mapping's runtime state from the database:
// the watermark, each entity's last-refresh and record count, and each
// schedule entry's anchor. Missing rows leave the zero values in place, which
// the engine and evaluator treat as "never synced".
func (s *Store) LoadMappingState(ctx context.Context, m *types.Mapping) error {
	var watermark sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT watermark FROM mapping_state WHERE mapping = ?", m.Name,
	).Scan(&watermark)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load mapping state %s: %w", m.Name, err)
	}
	if t, ok := parseStored(watermark); ok {
		m.LastCompletedRefresh = t
	}

	for _, e := range m.Entities {
		var lastRefresh sql.NullString
		var count int64
		err := s.db.QueryRowContext(ctx,
			"SELECT last_refresh, record_count FROM entity_state WHERE mapping = ? AND local_type = ?",
			m.Name, e.Local,
		).Scan(&lastRefresh, &count)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("load entity state %s/%s: %w", m.Name, e.Local, err)
		}
		if t, ok := parseStored(lastRefresh); ok {
			e.LastRefresh = t
		}
		e.RecordCount = count
	}

	for i, entry := range m.Schedules {
		var next string
		err := s.db.QueryRowContext(ctx,
			"SELECT next_iteration FROM schedule_state WHERE mapping = ? AND entry = ?",
			m.Name, i,
		).Scan(&next)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("load schedule state %s[%d]: %w", m.Name, i, err)
		}
		if t, err := time.Parse(timeLayout, next); err == nil {
			entry.NextIteration = t
		}
	}
	return nil
}

// SaveWatermark upserts the mapping's last-completed-refresh watermark.
func (s *Store) SaveWatermark(ctx context.Context, mapping string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mapping_state (mapping, watermark) VALUES (?, ?)
		ON CONFLICT (mapping) DO UPDATE SET watermark = excluded.watermark`,
		mapping, t.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", mapping, err)
	}
	return nil
}

// SaveEntityState upserts one entity's monotonic stats.
func (s *Store) SaveEntityState(ctx context.Context, mapping, localType string, lastRefresh time.Time, count int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_state (mapping, local_type, last_refresh, record_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (mapping, local_type) DO UPDATE SET
			last_refresh = excluded.last_refresh,
			record_count = excluded.record_count`,
		mapping, localType, lastRefresh.UTC().Format(timeLayout), count)
	if err != nil {
		return fmt.Errorf("save entity state %s/%s: %w", mapping, localType, err)
	}
	return nil
}

// SaveAnchor upserts a schedule entry's next-iteration anchor. Satisfies the
// schedule evaluator's AnchorStore.
func (s *Store) SaveAnchor(mapping string, entry int, next time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO schedule_state (mapping, entry, next_iteration) VALUES (?, ?, ?)
		ON CONFLICT (mapping, entry) DO UPDATE SET next_iteration = excluded.next_iteration`,
		mapping, entry, next.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save anchor %s[%d]: %w", mapping, entry, err)
	}
	return nil
}

// StartRun opens a sync-run audit row and returns its id.
func (s *Store) StartRun(ctx context.Context, mapping string, startedAt time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sync_runs (run_id, mapping, started_at) VALUES (?, ?, ?)",
		id.String(), mapping, startedAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("start run for %s: %w", mapping, err)
	}
	return id.String(), nil
}

// FinishRun closes a sync-run audit row with its outcome. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, inserted, updated int64, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET finished_at = ?, inserted = ?, updated = ?, error = ?
		WHERE run_id = ?`,
		finishedAt.UTC().Format(timeLayout), inserted, updated, errText, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Run is one row of the sync-run audit log.
type Run struct {
	ID         string
	Mapping    string
	StartedAt  time.Time
	FinishedAt time.Time
	Inserted   int64
	Updated    int64
	Error      string
}

// RecentRuns returns the most recent sync runs for a mapping, newest first.
func (s *Store) RecentRuns(ctx context.Context, mapping string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, mapping, started_at, finished_at, inserted, updated, error
		FROM sync_runs WHERE mapping = ?
		ORDER BY started_at DESC LIMIT ?`, mapping, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", mapping, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var finished, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.Mapping, &started, &finished, &r.Inserted, &r.Updated, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		if t, ok := parseStored(finished); ok {
			r.FinishedAt = t
		}
		r.Error = errText.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func parseStored(s sql.NullString) (time.Time, bool) {
	if !s.Valid || s.String == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

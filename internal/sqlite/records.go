package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/sfmirror/pkg/types"
)

// FindByRemoteID returns the stored record of the given local type with the
// given remote identity, or types.ErrNotFound.
func (s *Store) FindByRemoteID(ctx context.Context, localType, remoteID string) (types.Record, error) {
	var attrs string
	err := s.db.QueryRowContext(ctx,
		"SELECT attrs FROM records WHERE local_type = ? AND remote_id = ?",
		localType, remoteID,
	).Scan(&attrs)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", localType, remoteID, err)
	}

	var rec types.Record
	if err := json.Unmarshal([]byte(attrs), &rec); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", localType, remoteID, err)
	}
	return rec, nil
}

// Insert stores a new record of the given local type. The record's remote
// identity keys the row; its modstamp is lifted into a column so upsert
// comparisons do not need to decode the document.
func (s *Store) Insert(ctx context.Context, localType string, rec types.Record) error {
	attrs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", localType, err)
	}
	modstamp, _ := rec[types.AttrModstamp].(string)

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (local_type, remote_id, modstamp, attrs) VALUES (?, ?, ?, ?)",
		localType, rec.RemoteID(), modstamp, string(attrs))
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", localType, rec.RemoteID(), err)
	}
	return nil
}

// Update replaces all attributes of an existing record.
func (s *Store) Update(ctx context.Context, localType, remoteID string, rec types.Record) error {
	attrs, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", localType, err)
	}
	modstamp, _ := rec[types.AttrModstamp].(string)

	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET modstamp = ?, attrs = ? WHERE local_type = ? AND remote_id = ?",
		modstamp, string(attrs), localType, remoteID)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", localType, remoteID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s %s: %w", localType, remoteID, types.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored rows of the given local type.
func (s *Store) Count(ctx context.Context, localType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE local_type = ?", localType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", localType, err)
	}
	return n, nil
}

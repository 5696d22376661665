package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/brightloom/syncengine/internal/snapshot"
	"github.com/brightloom/syncengine/internal/syncerrors"
	"github.com/brightloom/syncengine/internal/timeutil"
)

// GetStatus implements the Sync Metadata Store's get_status operation.
func (s *Store) GetStatus(ctx context.Context, family string) (snapshot.EntitySyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `SELECT table_name, state, pending_count, last_error, last_full_sync_at, last_incremental_sync_at
	          FROM sync_status WHERE table_name = ?`, family)

	var (
		st                               snapshot.EntitySyncStatus
		lastError                        sql.NullString
		lastFull, lastIncremental        sql.NullInt64
	)

	err := row.Scan(&st.Family, &st.State, &st.PendingCount, &lastError, &lastFull, &lastIncremental)
	if err == sql.ErrNoRows {
		return snapshot.EntitySyncStatus{Family: family, State: snapshot.StateIdle}, nil
	}
	if err != nil {
		return snapshot.EntitySyncStatus{}, &syncerrors.StoreFailure{Kind: "get_status"}
	}

	if lastError.Valid {
		st.LastError = lastError.String
	}
	if lastFull.Valid {
		st.LastFullSyncAt = timeutil.FromUnixNano(lastFull.Int64)
	}
	if lastIncremental.Valid {
		st.LastIncrementalSyncAt = timeutil.FromUnixNano(lastIncremental.Int64)
	}

	return st, nil
}

// SetStatus implements the Sync Metadata Store's set_status operation. All
// mutations to a family's status are serialized by the store's sole-writer
// connection.
func (s *Store) SetStatus(ctx context.Context, status snapshot.EntitySyncStatus) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_status (table_name, state, pending_count, last_error, last_full_sync_at, last_incremental_sync_at)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON CONFLICT(table_name) DO UPDATE SET
	            state=excluded.state, pending_count=excluded.pending_count, last_error=excluded.last_error,
	            last_full_sync_at=excluded.last_full_sync_at, last_incremental_sync_at=excluded.last_incremental_sync_at`,
		status.Family, string(status.State), status.PendingCount, nullString(status.LastError),
		nullableNano(status.LastFullSyncAt), nullableNano(status.LastIncrementalSyncAt))
	if err != nil {
		return &syncerrors.StoreFailure{Kind: "set_status"}
	}

	return nil
}

// LastSyncAt returns the later of the family's last full and incremental
// sync timestamps.
func (s *Store) LastSyncAt(ctx context.Context, family string) (time.Time, error) {
	st, err := s.GetStatus(ctx, family)
	if err != nil {
		return time.Time{}, err
	}

	if st.LastIncrementalSyncAt.After(st.LastFullSyncAt) {
		return st.LastIncrementalSyncAt, nil
	}

	return st.LastFullSyncAt, nil
}

// SetLastSyncAt records the given timestamp for the named family.
// isFullSync selects which of the two timestamp fields is updated.
func (s *Store) SetLastSyncAt(ctx context.Context, family string, t time.Time, isFullSync bool) error {
	st, err := s.GetStatus(ctx, family)
	if err != nil {
		return err
	}

	if isFullSync {
		st.LastFullSyncAt = t
	} else {
		st.LastIncrementalSyncAt = t
	}

	return s.SetStatus(ctx, st)
}

// Cleanup deletes sync_status rows and conflict_history entries whose
// terminal timestamp is older than olderThan. Active (non-terminal) states
// are never touched.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Time) error {
	cutoff := timeutil.ToUnixNano(olderThan)

	_, err := s.db.ExecContext(ctx, `DELETE FROM conflict_history WHERE resolved_at < ?`, cutoff)
	if err != nil {
		return &syncerrors.StoreFailure{Kind: "cleanup_conflict_history"}
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM sync_status
	          WHERE state IN (?, ?, ?) AND COALESCE(last_incremental_sync_at, last_full_sync_at, 0) < ?`,
		string(snapshot.StateCompleted), string(snapshot.StateFailed), string(snapshot.StateCancelled), cutoff)
	if err != nil {
		return &syncerrors.StoreFailure{Kind: "cleanup_sync_status"}
	}

	return nil
}

// RecordConflictResolution persists one conflict resolver history entry
// durably, alongside the Conflict Resolver's in-memory bounded log.
// chosenVersion and resolvedContentHash are empty for failed resolutions.
func (s *Store) RecordConflictResolution(ctx context.Context, family, syncID, strategy string, succeeded bool, errMsg, chosenVersion, resolvedContentHash string, resolvedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO conflict_history (table_name, sync_id, strategy, succeeded, error, chosen_version, resolved_content_hash, resolved_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		family, syncID, strategy, boolToInt(succeeded), nullString(errMsg), chosenVersion, resolvedContentHash, timeutil.ToUnixNano(resolvedAt))
	if err != nil {
		return &syncerrors.StoreFailure{Kind: "record_conflict_history"}
	}

	return nil
}

// ConflictHistoryEntry is one durable conflict_history row, read back for
// the Integrity Validator's resolved-conflict cross-check and for CLI
// inspection.
type ConflictHistoryEntry struct {
	Family              string
	SyncID              string
	Strategy            string
	Succeeded           bool
	Error               string
	ChosenVersion       string
	ResolvedContentHash string
	ResolvedAt          time.Time
}

// ConflictHistory returns up to limit conflict_history rows for family,
// newest first. A zero or negative limit returns every matching row.
func (s *Store) ConflictHistory(ctx context.Context, family string, limit int) ([]ConflictHistoryEntry, error) {
	query := `SELECT table_name, sync_id, strategy, succeeded, error, chosen_version, resolved_content_hash, resolved_at
	          FROM conflict_history WHERE table_name = ? ORDER BY resolved_at DESC`
	args := []any{family}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &syncerrors.StoreFailure{Kind: "query_conflict_history"}
	}
	defer rows.Close()

	var out []ConflictHistoryEntry
	for rows.Next() {
		var (
			e           ConflictHistoryEntry
			succeeded   int
			errMsg      sql.NullString
			resolvedAt  int64
		)

		if err := rows.Scan(&e.Family, &e.SyncID, &e.Strategy, &succeeded, &errMsg, &e.ChosenVersion, &e.ResolvedContentHash, &resolvedAt); err != nil {
			return nil, &syncerrors.StoreFailure{Kind: "scan_conflict_history"}
		}

		e.Succeeded = succeeded != 0
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		e.ResolvedAt = timeutil.FromUnixNano(resolvedAt)

		out = append(out, e)
	}

	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

// Package store provides a SQLite-backed reference implementation of the
// Local Record Store and Sync Metadata Store outbound contracts. Any ordered
// keyed record store with schema reflection satisfies the core's
// requirements (spec §1 Non-goals); this one is shipped because the example
// corpus shows exactly this shape.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"

	"github.com/brightloom/syncengine/internal/snapshot"
	"github.com/brightloom/syncengine/internal/syncengine"
	"github.com/brightloom/syncengine/internal/syncerrors"
	"github.com/brightloom/syncengine/internal/timeutil"
)

const walJournalSizeLimit = 67108864 // 64 MiB

// Store is a single-writer SQLite-backed implementation of
// syncengine.LocalStore plus the Sync Metadata Store operations (C3). A
// single pooled connection enforces the sole-writer discipline the
// concurrency model requires — no additional locking needed.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite database at dbPath, applies
// migrations, and configures WAL mode. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // sole writer: one connection serializes all access

	ctx := context.Background()
	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Local Record Store (syncengine.LocalStore) ---

func (s *Store) FetchPending(ctx context.Context, family string, limit int) ([]snapshot.Snapshot, error) {
	query := `SELECT sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload
	          FROM snapshots WHERE table_name = ? AND (last_synced IS NULL OR last_modified > last_synced)
	          ORDER BY last_modified ASC`
	args := []any{family}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryRows(ctx, query, args...)
}

func (s *Store) FetchBySyncID(ctx context.Context, family, syncID string) (snapshot.Snapshot, bool, error) {
	rows, err := s.queryRows(ctx, `SELECT sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload
	          FROM snapshots WHERE table_name = ? AND sync_id = ?`, family, syncID)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}

	if len(rows) == 0 {
		return snapshot.Snapshot{}, false, nil
	}

	return rows[0], true, nil
}

func (s *Store) FetchModifiedAfter(ctx context.Context, family string, t time.Time, limit int) ([]snapshot.Snapshot, error) {
	query := `SELECT sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload
	          FROM snapshots WHERE table_name = ? AND last_modified > ? ORDER BY last_modified ASC`
	args := []any{family, timeutil.ToUnixNano(t)}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryRows(ctx, query, args...)
}

func (s *Store) FetchDeleted(ctx context.Context, family string, since time.Time) ([]snapshot.Snapshot, error) {
	return s.queryRows(ctx, `SELECT sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload
	          FROM snapshots WHERE table_name = ? AND is_deleted = 1 AND last_modified > ? ORDER BY last_modified ASC`,
		family, timeutil.ToUnixNano(since))
}

// ApplyRemote upserts a batch of remote snapshots into the local store.
// Applying the same snapshot twice is a no-op the second time: the write is
// skipped when the stored content_hash and is_deleted already match.
func (s *Store) ApplyRemote(ctx context.Context, snapshots []snapshot.Snapshot) ([]syncengine.ApplyResult, error) {
	results := make([]syncengine.ApplyResult, 0, len(snapshots))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &syncerrors.StoreFailure{Kind: "begin_tx"}
	}
	defer tx.Rollback() //nolint:errcheck

	for _, snap := range snapshots {
		existing, found, err := s.fetchTx(ctx, tx, snap.Family, snap.SyncID)
		if err != nil {
			results = append(results, syncengine.ApplyResult{SyncID: snap.SyncID, Err: err})
			continue
		}

		if found && existing.ContentHash == snap.ContentHash && existing.IsDeleted == snap.IsDeleted {
			results = append(results, syncengine.ApplyResult{SyncID: snap.SyncID, Applied: false})
			continue
		}

		payload, err := json.Marshal(snap.Payload)
		if err != nil {
			results = append(results, syncengine.ApplyResult{SyncID: snap.SyncID, Err: err})
			continue
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO snapshots (sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload)
		          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		          ON CONFLICT(table_name, sync_id) DO UPDATE SET
		            version=excluded.version, last_modified=excluded.last_modified,
		            last_synced=excluded.last_synced, is_deleted=excluded.is_deleted,
		            content_hash=excluded.content_hash, payload=excluded.payload`,
			snap.SyncID, snap.Family, snap.Version, timeutil.ToUnixNano(snap.LastModified),
			nullableNano(snap.LastSynced), boolToInt(snap.IsDeleted), snap.ContentHash, string(payload))
		if err != nil {
			results = append(results, syncengine.ApplyResult{SyncID: snap.SyncID, Err: &syncerrors.StoreFailure{Kind: "upsert"}})
			continue
		}

		results = append(results, syncengine.ApplyResult{SyncID: snap.SyncID, Applied: true})
	}

	if err := tx.Commit(); err != nil {
		return nil, &syncerrors.StoreFailure{Kind: "commit_tx"}
	}

	return results, nil
}

func (s *Store) MarkSynced(ctx context.Context, family string, ids []string, t time.Time) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `UPDATE snapshots SET last_synced = ? WHERE table_name = ? AND sync_id = ?`,
			timeutil.ToUnixNano(t), family, id); err != nil {
			return &syncerrors.StoreFailure{Kind: "mark_synced"}
		}
	}

	return nil
}

func (s *Store) MarkAllSyncedForFamily(ctx context.Context, family string, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE snapshots SET last_synced = ? WHERE table_name = ?`, timeutil.ToUnixNano(t), family); err != nil {
		return &syncerrors.StoreFailure{Kind: "mark_all_synced"}
	}

	return nil
}

// UpsertLocal writes a locally-originated snapshot (e.g. produced by
// snapshot.FromRecord). Used by host applications feeding local mutations
// into the store; not part of the LocalStore outbound contract itself.
func (s *Store) UpsertLocal(ctx context.Context, snap snapshot.Snapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO snapshots (sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(table_name, sync_id) DO UPDATE SET
	            version=excluded.version, last_modified=excluded.last_modified,
	            is_deleted=excluded.is_deleted, content_hash=excluded.content_hash, payload=excluded.payload`,
		snap.SyncID, snap.Family, snap.Version, timeutil.ToUnixNano(snap.LastModified),
		nullableNano(snap.LastSynced), boolToInt(snap.IsDeleted), snap.ContentHash, string(payload))
	if err != nil {
		return &syncerrors.StoreFailure{Kind: "upsert_local"}
	}

	return nil
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]snapshot.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &syncerrors.StoreFailure{Kind: "query"}
	}
	defer rows.Close()

	var out []snapshot.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, &syncerrors.StoreFailure{Kind: "scan"}
		}
		out = append(out, snap)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (snapshot.Snapshot, error) {
	var (
		syncID, family, payloadJSON, contentHash string
		version                                  int64
		lastModified                             int64
		lastSynced                               sql.NullInt64
		isDeleted                                int
	)

	if err := row.Scan(&syncID, &family, &version, &lastModified, &lastSynced, &isDeleted, &contentHash, &payloadJSON); err != nil {
		return snapshot.Snapshot{}, err
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return snapshot.Snapshot{}, err
	}

	s := snapshot.Snapshot{
		SyncID:       syncID,
		Family:       family,
		Version:      version,
		LastModified: timeutil.FromUnixNano(lastModified),
		IsDeleted:    isDeleted != 0,
		ContentHash:  contentHash,
		Payload:      payload,
	}

	if lastSynced.Valid {
		s.LastSynced = timeutil.FromUnixNano(lastSynced.Int64)
	}

	return s, nil
}

func (s *Store) fetchTx(ctx context.Context, tx *sql.Tx, family, syncID string) (snapshot.Snapshot, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT sync_id, table_name, version, last_modified, last_synced, is_deleted, content_hash, payload
	          FROM snapshots WHERE table_name = ? AND sync_id = ?`, family, syncID)

	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return snapshot.Snapshot{}, false, nil
		}

		return snapshot.Snapshot{}, false, &syncerrors.StoreFailure{Kind: "fetch_tx"}
	}

	return snap, true, nil
}

func nullableNano(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return timeutil.ToUnixNano(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

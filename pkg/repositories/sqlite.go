package repositories

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/state"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository opens (or creates) the database at path and applies migrations.
func NewSQLiteRepository(ctx context.Context, path string) (Repository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	statements, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for i, migration := range statements {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return &SQLiteRepository{
		db:  db,
		now: time.Now,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLiteRepository) LoadSyncState(ctx context.Context, key state.SessionKey) (*state.SyncState, error) {
	snapshot, err := loadSQLiteSnapshot(ctx, r.db, key)
	if err != nil {
		return nil, err
	}
	s, err := state.FromSnapshot(snapshot)
	if err != nil {
		return nil, fail("load", err)
	}
	return s, nil
}

func loadSQLiteSnapshot(ctx context.Context, q sqlQuerier, key state.SessionKey) (*state.Snapshot, error) {
	snapshot := &state.Snapshot{Key: key}

	err := q.QueryRowContext(ctx, `
	SELECT last_applied_server_sequence FROM sync_sessions WHERE seed = ? AND slot = ?;
	`, key.Seed, key.Slot).Scan(&snapshot.LastAppliedServerSequence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fail("load session", err)
	}

	if snapshot.CheckedLocations, err = querySQLiteChecked(ctx, q, key); err != nil {
		return nil, err
	}
	if snapshot.PendingApply, err = querySQLitePending(ctx, q, key); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// rows are closed before returning so the single connection is free for the next query
func querySQLiteChecked(ctx context.Context, q sqlQuerier, key state.SessionKey) ([]catalog.NormalizedID, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT location_id FROM checked_locations WHERE seed = ? AND slot = ? ORDER BY position;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("load checked locations", err)
	}
	defer rows.Close()

	var out []catalog.NormalizedID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fail("scan checked location", err)
		}
		out = append(out, catalog.NormalizedID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fail("load checked locations", err)
	}
	return out, nil
}

func querySQLitePending(ctx context.Context, q sqlQuerier, key state.SessionKey) ([]state.ReceiveEvent, error) {
	rows, err := q.QueryContext(ctx, `
	SELECT server_sequence, item_id, source_player, location_id FROM pending_apply
	WHERE seed = ? AND slot = ? ORDER BY server_sequence;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("load pending", err)
	}
	defer rows.Close()

	var out []state.ReceiveEvent
	for rows.Next() {
		var e state.ReceiveEvent
		if err := rows.Scan(&e.Sequence, &e.Item, &e.SourcePlayer, &e.Location); err != nil {
			return nil, fail("scan pending", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("load pending", err)
	}
	return out, nil
}

func (r *SQLiteRepository) SaveSyncState(ctx context.Context, s *state.SyncState) error {
	key := s.Key()
	watermark := s.LastAppliedServerSequence()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, `
	SELECT last_applied_server_sequence FROM sync_sessions WHERE seed = ? AND slot = ?;
	`, key.Seed, key.Slot).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fail("read watermark", err)
	case stored > watermark:
		return fail("save", fmt.Errorf("%w: stored %d, saving %d", ErrWatermarkRegression, stored, watermark))
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT OR REPLACE INTO sync_sessions (seed, slot, last_applied_server_sequence, updated_at)
	VALUES (?, ?, ?, ?);
	`, key.Seed, key.Slot, watermark, r.now().Unix()); err != nil {
		return fail("save session", err)
	}

	storedChecks, err := querySQLiteChecked(ctx, tx, key)
	if err != nil {
		return err
	}
	for i, id := range unstoredChecks(storedChecks, s.Checked()) {
		if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO checked_locations (seed, slot, position, location_id)
		VALUES (?, ?, ?, ?);
		`, key.Seed, key.Slot, len(storedChecks)+i, int64(id)); err != nil {
			return fail("save checked location", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
	DELETE FROM pending_apply WHERE seed = ? AND slot = ?;
	`, key.Seed, key.Slot); err != nil {
		return fail("clear pending", err)
	}
	for _, e := range s.Pending() {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO pending_apply (seed, slot, server_sequence, item_id, source_player, location_id)
		VALUES (?, ?, ?, ?, ?, ?);
		`, key.Seed, key.Slot, e.Sequence, int64(e.Item), e.SourcePlayer, int64(e.Location)); err != nil {
			return fail("save pending", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return nil
}

func (r *SQLiteRepository) ArchiveSyncState(ctx context.Context, key state.SessionKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback()

	snapshot, err := loadSQLiteSnapshot(ctx, tx, key)
	if err != nil {
		return err
	}
	payload, err := encodeArchive(snapshot)
	if err != nil {
		return fail("encode archive", err)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO archived_sessions (seed, slot, archived_at, payload) VALUES (?, ?, ?, ?);
	`, key.Seed, key.Slot, r.now().Unix(), payload); err != nil {
		return fail("insert archive", err)
	}
	for _, table := range []string{"sync_sessions", "checked_locations", "pending_apply"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE seed = ? AND slot = ?;`, table), key.Seed, key.Slot); err != nil {
			return fail("delete "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return nil
}

func (r *SQLiteRepository) ListArchives(ctx context.Context, key state.SessionKey) ([]Archive, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, archived_at, payload FROM archived_sessions WHERE seed = ? AND slot = ? ORDER BY id;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("list archives", err)
	}
	defer rows.Close()

	var archives []Archive
	for rows.Next() {
		var (
			a          Archive
			archivedAt int64
			payload    []byte
		)
		if err := rows.Scan(&a.ID, &archivedAt, &payload); err != nil {
			return nil, fail("scan archive", err)
		}
		a.ArchivedAt = time.Unix(archivedAt, 0)
		if a.Snapshot, err = decodeArchive(bytes.NewReader(payload)); err != nil {
			return nil, fail("decode archive", err)
		}
		archives = append(archives, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list archives", err)
	}
	return archives, nil
}

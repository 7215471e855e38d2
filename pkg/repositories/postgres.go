package repositories

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	// pgx.Conn is not safe for concurrent use
	lock sync.Mutex
	conn *pgx.Conn
	now  func() time.Time
}

// NewPostgresRepository connects to the database and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	var username, database string
	if err := conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("unable to query database: %w", err)
	}
	log.Info("Connected to %s as %s", database, username)

	statements, err := readMigrations("postgres")
	if err != nil {
		conn.Close(ctx)
		return nil, err
	}
	for i, migration := range statements {
		if _, err := conn.Exec(ctx, migration); err != nil {
			conn.Close(ctx)
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return &PostgresRepository{
		conn: conn,
		now:  time.Now,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.conn.Close(ctx)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) LoadSyncState(ctx context.Context, key state.SessionKey) (*state.SyncState, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	snapshot, err := loadPostgresSnapshot(ctx, r.conn, key)
	if err != nil {
		return nil, err
	}
	s, err := state.FromSnapshot(snapshot)
	if err != nil {
		return nil, fail("load", err)
	}
	return s, nil
}

func loadPostgresSnapshot(ctx context.Context, q pgQuerier, key state.SessionKey) (*state.Snapshot, error) {
	snapshot := &state.Snapshot{Key: key}

	err := q.QueryRow(ctx, `
	SELECT last_applied_server_sequence FROM sync_sessions WHERE seed = $1 AND slot = $2;
	`, key.Seed, key.Slot).Scan(&snapshot.LastAppliedServerSequence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fail("load session", err)
	}

	rows, err := q.Query(ctx, `
	SELECT location_id FROM checked_locations WHERE seed = $1 AND slot = $2 ORDER BY position;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("load checked locations", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fail("load checked locations", err)
	}
	for _, id := range ids {
		snapshot.CheckedLocations = append(snapshot.CheckedLocations, catalog.NormalizedID(id))
	}

	rows, err = q.Query(ctx, `
	SELECT server_sequence, item_id, source_player, location_id FROM pending_apply
	WHERE seed = $1 AND slot = $2 ORDER BY server_sequence;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("load pending", err)
	}
	snapshot.PendingApply, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (state.ReceiveEvent, error) {
		var seq, item, location int64
		var player int32
		if err := row.Scan(&seq, &item, &player, &location); err != nil {
			return state.ReceiveEvent{}, err
		}
		return state.ReceiveEvent{
			Item:         catalog.NormalizedID(item),
			SourcePlayer: int(player),
			Location:     catalog.NormalizedID(location),
			Sequence:     seq,
		}, nil
	})
	if err != nil {
		return nil, fail("load pending", err)
	}

	return snapshot, nil
}

func (r *PostgresRepository) SaveSyncState(ctx context.Context, s *state.SyncState) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := s.Key()
	watermark := s.LastAppliedServerSequence()

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback(ctx)

	var stored int64
	err = tx.QueryRow(ctx, `
	SELECT last_applied_server_sequence FROM sync_sessions WHERE seed = $1 AND slot = $2 FOR UPDATE;
	`, key.Seed, key.Slot).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fail("read watermark", err)
	case stored > watermark:
		return fail("save", fmt.Errorf("%w: stored %d, saving %d", ErrWatermarkRegression, stored, watermark))
	}

	if _, err := tx.Exec(ctx, `
	INSERT INTO sync_sessions (seed, slot, last_applied_server_sequence, updated_at) VALUES ($1, $2, $3, $4)
	ON CONFLICT (seed, slot) DO UPDATE SET last_applied_server_sequence = $3, updated_at = $4;
	`, key.Seed, key.Slot, watermark, r.now()); err != nil {
		return fail("save session", err)
	}

	rows, err := tx.Query(ctx, `
	SELECT location_id FROM checked_locations WHERE seed = $1 AND slot = $2 ORDER BY position;
	`, key.Seed, key.Slot)
	if err != nil {
		return fail("load checked locations", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fail("load checked locations", err)
	}
	storedChecks := make([]catalog.NormalizedID, len(ids))
	for i, id := range ids {
		storedChecks[i] = catalog.NormalizedID(id)
	}

	batch := &pgx.Batch{}
	for i, id := range unstoredChecks(storedChecks, s.Checked()) {
		batch.Queue(`
		INSERT INTO checked_locations (seed, slot, position, location_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING;
		`, key.Seed, key.Slot, len(storedChecks)+i, int64(id))
	}
	batch.Queue(`DELETE FROM pending_apply WHERE seed = $1 AND slot = $2;`, key.Seed, key.Slot)
	for _, e := range s.Pending() {
		batch.Queue(`
		INSERT INTO pending_apply (seed, slot, server_sequence, item_id, source_player, location_id)
		VALUES ($1, $2, $3, $4, $5, $6);
		`, key.Seed, key.Slot, e.Sequence, int64(e.Item), e.SourcePlayer, int64(e.Location))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fail("save batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail("commit", err)
	}
	return nil
}

func (r *PostgresRepository) ArchiveSyncState(ctx context.Context, key state.SessionKey) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback(ctx)

	snapshot, err := loadPostgresSnapshot(ctx, tx, key)
	if err != nil {
		return err
	}
	payload, err := encodeArchive(snapshot)
	if err != nil {
		return fail("encode archive", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
	INSERT INTO archived_sessions (seed, slot, archived_at, payload) VALUES ($1, $2, $3, $4);
	`, key.Seed, key.Slot, r.now(), payload)
	for _, table := range []string{"sync_sessions", "checked_locations", "pending_apply"} {
		batch.Queue(fmt.Sprintf(`DELETE FROM %s WHERE seed = $1 AND slot = $2;`, table), key.Seed, key.Slot)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fail("archive batch", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail("commit", err)
	}
	return nil
}

func (r *PostgresRepository) ListArchives(ctx context.Context, key state.SessionKey) ([]Archive, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rows, err := r.conn.Query(ctx, `
	SELECT id, archived_at, payload FROM archived_sessions WHERE seed = $1 AND slot = $2 ORDER BY id;
	`, key.Seed, key.Slot)
	if err != nil {
		return nil, fail("list archives", err)
	}
	archives, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Archive, error) {
		var a Archive
		var payload []byte
		if err := row.Scan(&a.ID, &a.ArchivedAt, &payload); err != nil {
			return a, err
		}
		snapshot, err := decodeArchive(bytes.NewReader(payload))
		if err != nil {
			return a, err
		}
		a.Snapshot = snapshot
		return a, nil
	})
	if err != nil {
		return nil, fail("list archives", err)
	}
	return archives, nil
}

package repositories

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/state"
)

// Repository durably stores sync state, one record per session.
type Repository interface {
	Close(ctx context.Context) error
	// LoadSyncState returns ErrNotFound when the session has no record.
	LoadSyncState(ctx context.Context, key state.SessionKey) (*state.SyncState, error)
	// SaveSyncState atomically replaces the session's record. It fails with
	// ErrWatermarkRegression if the stored watermark is higher.
	SaveSyncState(ctx context.Context, s *state.SyncState) error
	// ArchiveSyncState moves the session's record to the archive.
	ArchiveSyncState(ctx context.Context, key state.SessionKey) error
	ListArchives(ctx context.Context, key state.SessionKey) ([]Archive, error)
}

// Archive is a session record that was retired.
type Archive struct {
	ID         int64
	ArchivedAt time.Time
	Snapshot   *state.Snapshot
}

// Open selects a repository by URL scheme: sqlite://path, postgresql://...,
// file://dir or memory://.
func Open(ctx context.Context, connStr string) (Repository, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	switch u.Scheme {
	case "sqlite", "sqlite3":
		return NewSQLiteRepository(ctx, strings.TrimPrefix(connStr, u.Scheme+"://"))
	case "postgres", "postgresql":
		return NewPostgresRepository(ctx, connStr)
	case "file":
		return NewFileRepository(strings.TrimPrefix(connStr, "file://"))
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
}

// unstoredChecks returns the ids in checked that stored lacks, in order.
func unstoredChecks(stored, checked []catalog.NormalizedID) []catalog.NormalizedID {
	have := make(map[catalog.NormalizedID]struct{}, len(stored))
	for _, id := range stored {
		have[id] = struct{}{}
	}
	var out []catalog.NormalizedID
	for _, id := range checked {
		if _, ok := have[id]; ok {
			continue
		}
		have[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

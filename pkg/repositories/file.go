package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cbodonnell/apsync/pkg/state"
)

const (
	stateFileName = "state.json"
	archiveDir    = "archive"
	archiveSuffix = ".json.zst"
)

// FileRepository stores one JSON document per session in a directory tree:
// <dir>/<seed>/<slot>/state.json, with archives under <dir>/<seed>/<slot>/archive.
// Saves replace the document with a rename, so a crash leaves either the old
// or the new document.
type FileRepository struct {
	lock sync.Mutex
	dir  string
	now  func() time.Time
}

func NewFileRepository(dir string) (Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileRepository{
		dir: dir,
		now: time.Now,
	}, nil
}

func (r *FileRepository) Close(ctx context.Context) error {
	return nil
}

// escapePathSegment maps a key component to a single directory name. Distinct
// components always map to distinct names.
func escapePathSegment(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ".", "%2E")
}

func (r *FileRepository) sessionDir(key state.SessionKey) string {
	return filepath.Join(r.dir, escapePathSegment(key.Seed), escapePathSegment(key.Slot))
}

func (r *FileRepository) path(key state.SessionKey) string {
	return filepath.Join(r.sessionDir(key), stateFileName)
}

func (r *FileRepository) readSnapshot(key state.SessionKey) (*state.Snapshot, error) {
	b, err := os.ReadFile(r.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ErrNotFound{}
		}
		return nil, fail("read", err)
	}
	var snapshot state.Snapshot
	if err := json.Unmarshal(b, &snapshot); err != nil {
		return nil, fail("decode", err)
	}
	if snapshot.Key != key {
		return nil, fail("load", fmt.Errorf("%s holds session %s, not %s", r.path(key), snapshot.Key, key))
	}
	return &snapshot, nil
}

func (r *FileRepository) LoadSyncState(ctx context.Context, key state.SessionKey) (*state.SyncState, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	snapshot, err := r.readSnapshot(key)
	if err != nil {
		return nil, err
	}
	s, err := state.FromSnapshot(snapshot)
	if err != nil {
		return nil, fail("load", err)
	}
	return s, nil
}

func (r *FileRepository) SaveSyncState(ctx context.Context, s *state.SyncState) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored, err := r.readSnapshot(s.Key())
	switch {
	case IsNotFound(err):
	case err != nil:
		return err
	case stored.LastAppliedServerSequence > s.LastAppliedServerSequence():
		return fail("save", fmt.Errorf("%w: stored %d, saving %d", ErrWatermarkRegression, stored.LastAppliedServerSequence, s.LastAppliedServerSequence()))
	}

	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fail("encode", err)
	}
	if err := os.MkdirAll(r.sessionDir(s.Key()), 0o755); err != nil {
		return fail("write", err)
	}
	if err := writeFileAtomic(r.path(s.Key()), b); err != nil {
		return fail("write", err)
	}
	return nil
}

func (r *FileRepository) ArchiveSyncState(ctx context.Context, key state.SessionKey) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	snapshot, err := r.readSnapshot(key)
	if err != nil {
		return err
	}
	name := strconv.FormatInt(r.now().UnixNano(), 10) + archiveSuffix
	if err := WriteArchive(filepath.Join(r.sessionDir(key), archiveDir, name), snapshot); err != nil {
		return fail("write archive", err)
	}
	if err := os.Remove(r.path(key)); err != nil {
		return fail("remove", err)
	}
	return nil
}

func (r *FileRepository) ListArchives(ctx context.Context, key state.SessionKey) ([]Archive, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	dir := filepath.Join(r.sessionDir(key), archiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fail("list archives", err)
	}

	var archives []Archive
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		nanos, err := strconv.ParseInt(strings.TrimSuffix(name, archiveSuffix), 10, 64)
		if err != nil {
			continue
		}
		snapshot, err := ReadArchive(filepath.Join(dir, name))
		if err != nil {
			return nil, fail("read archive", err)
		}
		if snapshot.Key != key {
			return nil, fail("read archive", fmt.Errorf("%s holds session %s, not %s", name, snapshot.Key, key))
		}
		archives = append(archives, Archive{ID: nanos, ArchivedAt: time.Unix(0, nanos), Snapshot: snapshot})
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].ID < archives[j].ID })
	return archives, nil
}

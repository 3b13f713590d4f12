package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

const (
	// BlobFile is the vector blob inside a snapshot directory.
	BlobFile = "event_embeddings.vec"
	// SidecarFile is the id mapping and metadata document inside a snapshot directory.
	SidecarFile = "event_metadata.json"

	currentFile  = "CURRENT"
	lockFile     = "LOCK"
	snapshotsDir = "snapshots"
	tmpPrefix    = ".tmp-"

	lockRetryDelay = 10 * time.Millisecond
)

// FileStore persists each snapshot as its own directory under
// <dir>/snapshots and publishes it by atomically replacing <dir>/CURRENT.
// A reader following CURRENT always sees a blob and a sidecar written by the
// same Save call.
//
// Save and Load hold an advisory lock on <dir>/LOCK, exclusive and shared
// respectively, so processes sharing a data directory never interleave a
// publish with a read or with another publish.
type FileStore struct {
	dir    string
	retain int
	log    zerolog.Logger
	now    func() time.Time
	sync   func(dir string) error
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string, retain int, log zerolog.Logger) (*FileStore, error) {
	if retain <= 0 {
		retain = DefaultRetain
	}
	if err := os.MkdirAll(filepath.Join(dir, snapshotsDir), 0700); err != nil {
		return nil, errs.Persistence("open", dir, err)
	}
	return &FileStore{dir: dir, retain: retain, log: log, now: time.Now, sync: syncDir}, nil
}

// Name implements vectorindex.Persister.
func (s *FileStore) Name() string { return string(BackendFile) }

// Close implements Persister. FileStore holds no open handles.
func (s *FileStore) Close() error { return nil }

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

// Save writes snap into a fresh snapshot directory and points CURRENT at it.
// It refuses with errs.ErrConflict when CURRENT already holds a generation
// at least as new as snap's. A CURRENT that cannot be parsed is replaced.
func (s *FileStore) Save(ctx context.Context, snap *vectorindex.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return errs.Persistence("save", s.dir, err)
	}

	unlock, err := s.lock(ctx, false)
	if err != nil {
		return errs.Persistence("save", filepath.Join(s.dir, lockFile), err)
	}
	defer unlock()

	stored, err := s.storedGeneration()
	switch {
	case err == nil && stored >= snap.Generation:
		return errs.Persistence("save", filepath.Join(s.dir, currentFile),
			fmt.Errorf("%w: stored generation %d, saving %d", errs.ErrConflict, stored, snap.Generation))
	case err != nil && !errors.Is(err, errs.ErrNoSnapshot):
		s.log.Warn().Err(err).Msg("replacing unreadable CURRENT pointer")
	}

	blob := encodeBlob(snap.Dim, snap.Vectors)
	side, err := encodeSidecar(newSidecar(snap, checksum(blob), s.now()))
	if err != nil {
		return errs.Persistence("save", s.dir, fmt.Errorf("encode sidecar: %w", err))
	}

	root := filepath.Join(s.dir, snapshotsDir)
	tmp, err := os.MkdirTemp(root, tmpPrefix)
	if err != nil {
		return errs.Persistence("save", root, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := writeFileSync(filepath.Join(tmp, BlobFile), blob); err != nil {
		return errs.Persistence("save", tmp, err)
	}
	if err := writeFileSync(filepath.Join(tmp, SidecarFile), side); err != nil {
		return errs.Persistence("save", tmp, err)
	}
	if err := s.sync(tmp); err != nil {
		return errs.Persistence("save", tmp, err)
	}
	if err := ctx.Err(); err != nil {
		return errs.Persistence("save", tmp, err)
	}

	name := fmt.Sprintf("%012d-%s", snap.Generation, uuid.NewString()[:8])
	final := filepath.Join(root, name)
	if err := os.Rename(tmp, final); err != nil {
		return errs.Persistence("save", final, err)
	}
	committed = true
	if err := s.sync(root); err != nil {
		_ = os.RemoveAll(final)
		return errs.Persistence("save", root, err)
	}

	// Replacing the pointer is the commit point. Past it the snapshot
	// directory is live and must stay, even when the final sync fails.
	published, err := s.writeCurrent(name)
	if err != nil {
		if !published {
			_ = os.RemoveAll(final)
		}
		return errs.Persistence("save", filepath.Join(s.dir, currentFile), err)
	}

	s.log.Debug().
		Str("snapshot", name).
		Int("count", snap.Count()).
		Int("bytes", len(blob)+len(side)).
		Msg("snapshot published")

	s.prune(name)
	return nil
}

// Load reads the snapshot CURRENT points at.
func (s *FileStore) Load(ctx context.Context) (*vectorindex.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Persistence("load", s.dir, err)
	}

	unlock, err := s.lock(ctx, true)
	if err != nil {
		return nil, errs.Persistence("load", filepath.Join(s.dir, lockFile), err)
	}
	defer unlock()

	name, err := s.current()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.ErrNoSnapshot
	}
	if err != nil {
		return nil, errs.Persistence("load", filepath.Join(s.dir, currentFile), err)
	}

	dir := filepath.Join(s.dir, snapshotsDir, name)
	side, err := os.ReadFile(filepath.Join(dir, SidecarFile))
	if err != nil {
		return nil, errs.Persistence("load", dir, err)
	}
	blob, err := os.ReadFile(filepath.Join(dir, BlobFile))
	if err != nil {
		return nil, errs.Persistence("load", dir, err)
	}

	sc, err := decodeSidecar(side)
	if err != nil {
		return nil, errs.Persistence("load", dir, err)
	}
	if got := checksum(blob); got != sc.BlobChecksum {
		return nil, errs.Persistence("load", dir,
			fmt.Errorf("%w: blob checksum %s, sidecar expects %s", errs.ErrCorruptSnapshot, got, sc.BlobChecksum))
	}
	dim, vectors, err := decodeBlob(blob)
	if err != nil {
		return nil, errs.Persistence("load", dir, err)
	}
	snap, err := sc.snapshot(dim, vectors)
	if err != nil {
		return nil, errs.Persistence("load", dir, err)
	}
	return snap, nil
}

// StoredGeneration implements vectorindex.GenerationReader. It reads the
// generation from the CURRENT pointer, so it works even when the snapshot it
// names is damaged.
func (s *FileStore) StoredGeneration(ctx context.Context) (uint64, error) {
	unlock, err := s.lock(ctx, true)
	if err != nil {
		return 0, errs.Persistence("load", filepath.Join(s.dir, lockFile), err)
	}
	defer unlock()
	return s.storedGeneration()
}

func (s *FileStore) storedGeneration() (uint64, error) {
	name, err := s.current()
	if errors.Is(err, fs.ErrNotExist) {
		return 0, errs.ErrNoSnapshot
	}
	if err != nil {
		return 0, err
	}
	return snapshotGeneration(name)
}

// snapshotGeneration parses the generation prefix of a snapshot name.
func snapshotGeneration(name string) (uint64, error) {
	prefix, _, _ := strings.Cut(name, "-")
	gen, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: snapshot name %q has no generation", errs.ErrCorruptSnapshot, name)
	}
	return gen, nil
}

// lock takes the data directory lock, shared or exclusive, waiting until
// ctx is done. The returned func releases it.
func (s *FileStore) lock(ctx context.Context, shared bool) (func(), error) {
	l := flock.New(filepath.Join(s.dir, lockFile))
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = l.TryRLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = l.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("data directory %s is locked", s.dir)
	}
	return func() {
		if err := l.Unlock(); err != nil {
			s.log.Warn().Err(err).Msg("releasing data directory lock failed")
		}
	}, nil
}

// Snapshots lists committed snapshot directory names, oldest first.
func (s *FileStore) Snapshots() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, snapshotsDir))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), tmpPrefix) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) current() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(b))
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("%w: CURRENT holds %q", errs.ErrCorruptSnapshot, name)
	}
	return name, nil
}

// writeCurrent points CURRENT at name. published reports whether the
// rename happened, i.e. whether readers may already follow the new pointer.
func (s *FileStore) writeCurrent(name string) (published bool, err error) {
	tmp := filepath.Join(s.dir, currentFile+".tmp")
	if err := writeFileSync(tmp, []byte(name+"\n")); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, currentFile)); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	if err := s.sync(s.dir); err != nil {
		return true, fmt.Errorf("pointer published but not synced: %w", err)
	}
	return true, nil
}

// prune removes all but the newest retain snapshots plus any abandoned
// temp directories. Failures are logged, never returned: the new snapshot
// is already published. Caller holds the exclusive lock.
func (s *FileStore) prune(current string) {
	root := filepath.Join(s.dir, snapshotsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing snapshots for pruning failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), tmpPrefix) {
			s.remove(filepath.Join(root, e.Name()))
		}
	}

	committed, err := s.Snapshots()
	if err != nil {
		s.log.Warn().Err(err).Msg("listing snapshots for pruning failed")
		return
	}
	keep := make(map[string]bool, s.retain+1)
	keep[current] = true
	for i := len(committed) - 1; i >= 0 && len(keep) < s.retain; i-- {
		keep[committed[i]] = true
	}
	for _, name := range committed {
		if !keep[name] {
			s.remove(filepath.Join(root, name))
		}
	}
}

func (s *FileStore) remove(path string) {
	if err := os.RemoveAll(path); err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("removing old snapshot failed")
	}
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

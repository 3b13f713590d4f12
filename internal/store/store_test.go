package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

func sampleSnapshot(generation uint64) *vectorindex.Snapshot {
	created := time.Date(2026, 2, 14, 18, 30, 0, 0, time.UTC)
	return &vectorindex.Snapshot{
		Dim:        3,
		Generation: generation,
		IDs:        []string{"evt-b", "evt-a"},
		Vectors:    []float32{0.6, 0.8, 0, 0, 0, 1},
		Metadata: map[string]vectorindex.Metadata{
			"evt-a": {EventID: "evt-a", Title: "Hack Night", Description: "Build things", Tags: []string{"coding"}, CreatedAt: created},
			"evt-b": {EventID: "evt-b", Title: "Jazz Jam", Description: "Bring an instrument", Tags: []string{}, HostingClub: "Music Club", Category: "arts", CreatedAt: created},
		},
	}
}

func assertSnapshotEqual(t *testing.T, want, got *vectorindex.Snapshot) {
	t.Helper()
	if got.Dim != want.Dim || got.Generation != want.Generation {
		t.Fatalf("expected dim=%d gen=%d, got dim=%d gen=%d", want.Dim, want.Generation, got.Dim, got.Generation)
	}
	if !slices.Equal(got.IDs, want.IDs) {
		t.Fatalf("expected ids %v, got %v", want.IDs, got.IDs)
	}
	if !slices.Equal(got.Vectors, want.Vectors) {
		t.Fatalf("expected vectors %v, got %v", want.Vectors, got.Vectors)
	}
	for id, wm := range want.Metadata {
		gm, ok := got.Metadata[id]
		if !ok {
			t.Fatalf("missing metadata for %s", id)
		}
		if gm.Title != wm.Title || gm.Description != wm.Description || gm.HostingClub != wm.HostingClub ||
			gm.Category != wm.Category || !gm.CreatedAt.Equal(wm.CreatedAt) || !slices.Equal(gm.Tags, wm.Tags) {
			t.Errorf("metadata for %s: expected %+v, got %+v", id, wm, gm)
		}
	}
}

func TestBlob_RoundTrip(t *testing.T) {
	vectors := []float32{1, -0.5, 0.25, 3.5e-8, 0, -1}
	blob := encodeBlob(3, vectors)
	if len(blob) != blobHeaderSize+len(vectors)*4 {
		t.Fatalf("expected %d bytes, got %d", blobHeaderSize+len(vectors)*4, len(blob))
	}
	dim, got, err := decodeBlob(blob)
	if err != nil {
		t.Fatalf("decodeBlob: %v", err)
	}
	if dim != 3 || !slices.Equal(got, vectors) {
		t.Errorf("expected dim 3 and %v, got dim %d and %v", vectors, dim, got)
	}
}

func TestBlob_RejectsCorruption(t *testing.T) {
	good := encodeBlob(2, []float32{1, 0, 0, 1})
	tests := []struct {
		name string
		blob []byte
	}{
		{"truncated header", good[:10]},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"short body", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := decodeBlob(tt.blob); !errors.Is(err, errs.ErrCorruptSnapshot) {
				t.Errorf("expected ErrCorruptSnapshot, got %v", err)
			}
		})
	}
}

func TestFileStore_LoadEmpty(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, errs.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	want := sampleSnapshot(4)
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, want, got)

	// The sidecar carries both mapping directions and ISO-8601 timestamps.
	names, _ := s.Snapshots()
	side, err := os.ReadFile(filepath.Join(dir, snapshotsDir, names[0], SidecarFile))
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	for _, key := range []string{`"id_to_slot"`, `"slot_to_id"`, `"created_at": "2026-02-14T18:30:00Z"`, `"blob_checksum"`} {
		if !strings.Contains(string(side), key) {
			t.Errorf("expected sidecar to contain %s", key)
		}
	}
}

func TestFileStore_PrunesOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	for gen := uint64(1); gen <= 5; gen++ {
		if err := s.Save(ctx, sampleSnapshot(gen)); err != nil {
			t.Fatalf("Save gen %d: %v", gen, err)
		}
	}

	names, err := s.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 retained snapshots, got %v", names)
	}
	cur, _ := s.current()
	if names[1] != cur {
		t.Errorf("expected newest snapshot %s to be current, got %s", names[1], cur)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Generation != 5 {
		t.Errorf("expected generation 5, got %d", got.Generation)
	}
}

func TestFileStore_DetectsTamperedBlob(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, 0, zerolog.Nop())
	ctx := context.Background()
	if err := s.Save(ctx, sampleSnapshot(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cur, _ := s.current()
	blobPath := filepath.Join(dir, snapshotsDir, cur, BlobFile)
	blob, _ := os.ReadFile(blobPath)
	blob[len(blob)-1] ^= 0xFF
	if err := os.WriteFile(blobPath, blob, 0600); err != nil {
		t.Fatalf("rewriting blob: %v", err)
	}

	_, err := s.Load(ctx)
	var pe *errs.PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, errs.ErrCorruptSnapshot) {
		t.Fatalf("expected corrupt PersistenceError, got %v", err)
	}
}

func TestFileStore_CanceledSaveKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, 0, zerolog.Nop())
	if err := s.Save(context.Background(), sampleSnapshot(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Save(ctx, sampleSnapshot(2)); err == nil {
		t.Fatal("expected canceled save to fail")
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Generation != 1 {
		t.Errorf("expected generation 1 to remain current, got %d", got.Generation)
	}
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Load(ctx); !errors.Is(err, errs.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot on empty database, got %v", err)
	}

	if err := s.Save(ctx, sampleSnapshot(3)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	smaller := sampleSnapshot(4)
	smaller.IDs = smaller.IDs[:1]
	smaller.Vectors = smaller.Vectors[:3]
	delete(smaller.Metadata, "evt-a")
	if err := s.Save(ctx, smaller); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, smaller, got)
	if len(got.Metadata) != 1 {
		t.Errorf("expected previous rows replaced, got %d metadata rows", len(got.Metadata))
	}
}

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()

	fs, err := Open(BackendFile, Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open(file): %v", err)
	}
	if fs.Name() != "file" {
		t.Errorf("expected file backend, got %s", fs.Name())
	}
	_ = fs.Close()

	db, err := Open(BackendSQLite, Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	if db.Name() != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", db.Name())
	}
	_ = db.Close()

	if _, err := Open("redis", Options{Dir: dir}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := os.Stat(filepath.Join(dir, ".gitignore")); err != nil {
		t.Errorf("expected .gitignore in data dir: %v", err)
	}
}

func TestFileStore_WithIndex(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, 0, zerolog.Nop())
	ctx := context.Background()

	idx := vectorindex.New(vectorindex.Config{Dim: 2, Persister: s})
	for id, v := range map[string][]float32{"a": {1, 0}, "b": {0, 1}} {
		if err := idx.Add(ctx, id, v, vectorindex.Metadata{Title: id}); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	if _, err := idx.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reopened, err := vectorindex.Open(ctx, vectorindex.Config{Dim: 2, Persister: s})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := reopened.IDs(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("expected [b], got %v", got)
	}
}

func TestFileStore_RejectsStaleGeneration(t *testing.T) {
	dir := t.TempDir()
	a, _ := NewFileStore(dir, 0, zerolog.Nop())
	b, _ := NewFileStore(dir, 0, zerolog.Nop())
	ctx := context.Background()

	if err := a.Save(ctx, sampleSnapshot(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, gen := range []uint64{1, 0} {
		if err := b.Save(ctx, sampleSnapshot(gen)); !errors.Is(err, errs.ErrConflict) {
			t.Errorf("gen %d: expected ErrConflict, got %v", gen, err)
		}
	}
	if err := b.Save(ctx, sampleSnapshot(2)); err != nil {
		t.Fatalf("expected a newer generation to be accepted: %v", err)
	}

	gen, err := a.StoredGeneration(ctx)
	if err != nil || gen != 2 {
		t.Fatalf("expected stored generation 2, got %d (%v)", gen, err)
	}
}

func TestFileStore_StoredGenerationSurvivesDamagedSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, 0, zerolog.Nop())
	ctx := context.Background()
	if _, err := s.StoredGeneration(ctx); !errors.Is(err, errs.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	if err := s.Save(ctx, sampleSnapshot(7)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cur, _ := s.current()
	if err := os.Remove(filepath.Join(dir, snapshotsDir, cur, SidecarFile)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(ctx); err == nil {
		t.Fatal("expected Load to fail without a sidecar")
	}
	if gen, err := s.StoredGeneration(ctx); err != nil || gen != 7 {
		t.Errorf("expected generation 7 from CURRENT, got %d (%v)", gen, err)
	}
}

func TestFileStore_SyncFailureAroundPublish(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(dir, 0, zerolog.Nop())
	ctx := context.Background()
	if err := s.Save(ctx, sampleSnapshot(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	failOn := func(target string) func(string) error {
		return func(d string) error {
			if d == target {
				return errors.New("fsync failed")
			}
			return nil
		}
	}

	// Before the pointer moves, the new directory is discarded.
	s.sync = failOn(filepath.Join(dir, snapshotsDir))
	if err := s.Save(ctx, sampleSnapshot(2)); err == nil {
		t.Fatal("expected save to fail")
	}
	names, _ := s.Snapshots()
	if len(names) != 1 {
		t.Errorf("expected only the first snapshot on disk, got %v", names)
	}

	// After the pointer moves, the published directory must stay.
	s.sync = failOn(dir)
	if err := s.Save(ctx, sampleSnapshot(3)); err == nil {
		t.Fatal("expected save to report the sync failure")
	}
	s.sync = syncDir
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("expected the published snapshot to load, got %v", err)
	}
	if got.Generation != 3 {
		t.Errorf("expected generation 3, got %d", got.Generation)
	}
}

func TestSQLiteStore_RejectsStaleGeneration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	a, err := OpenSQLite(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer a.Close()
	b, err := OpenSQLite(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	if _, err := a.StoredGeneration(ctx); !errors.Is(err, errs.ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	if err := a.Save(ctx, sampleSnapshot(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, sampleSnapshot(1)); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshotEqual(t, sampleSnapshot(1), got)
	if gen, err := b.StoredGeneration(ctx); err != nil || gen != 1 {
		t.Errorf("expected stored generation 1, got %d (%v)", gen, err)
	}
}

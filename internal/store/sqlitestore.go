package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS index_state (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	dim         INTEGER NOT NULL,
	generation  INTEGER NOT NULL,
	count       INTEGER NOT NULL,
	checksum    TEXT    NOT NULL,
	saved_at    TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS event_vectors (
	slot      INTEGER PRIMARY KEY,
	event_id  TEXT    NOT NULL UNIQUE,
	vector    BLOB    NOT NULL
);
CREATE TABLE IF NOT EXISTS event_metadata (
	event_id     TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL,
	tags         TEXT NOT NULL,
	hosting_club TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);
`

// SQLiteStore keeps the vector rows, the slot mapping and the metadata in
// one SQLite database. Each Save replaces all three in a single transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
	now  func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, log zerolog.Logger) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Persistence("open", path, err)
	}
	// A single writer keeps transactions serialized without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errs.Persistence("open", path, fmt.Errorf("create schema: %w", err))
	}
	return &SQLiteStore{db: db, path: path, log: log, now: time.Now}, nil
}

// Name implements vectorindex.Persister.
func (s *SQLiteStore) Name() string { return string(BackendSQLite) }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot inside one transaction. Transactions
// begin IMMEDIATE, so the generation check and the replacement cannot
// interleave with another process's Save.
func (s *SQLiteStore) Save(ctx context.Context, snap *vectorindex.Snapshot) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Persistence("save", s.path, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stored, err := storedGeneration(ctx, tx)
	switch {
	case errors.Is(err, errs.ErrNoSnapshot):
		err = nil
	case err != nil:
		return errs.Persistence("save", s.path, err)
	case stored >= snap.Generation:
		err = fmt.Errorf("%w: stored generation %d, saving %d", errs.ErrConflict, stored, snap.Generation)
		return errs.Persistence("save", s.path, err)
	}

	for _, stmt := range []string{"DELETE FROM event_vectors", "DELETE FROM event_metadata"} {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return errs.Persistence("save", s.path, err)
		}
	}

	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO event_vectors (slot, event_id, vector) VALUES (?, ?, ?)")
	if err != nil {
		return errs.Persistence("save", s.path, err)
	}
	defer vecStmt.Close()

	metaStmt, err := tx.PrepareContext(ctx, `INSERT INTO event_metadata
		(event_id, title, description, tags, hosting_club, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Persistence("save", s.path, err)
	}
	defer metaStmt.Close()

	digest := xxhash.New()
	for slot, id := range snap.IDs {
		row := appendFloat32s(nil, snap.Vector(slot))
		_, _ = digest.Write(row)
		if _, err = vecStmt.ExecContext(ctx, slot, id, row); err != nil {
			return errs.Persistence("save", s.path, fmt.Errorf("insert vector %s: %w", id, err))
		}

		m := snap.Metadata[id]
		tags, mErr := json.Marshal(m.Clone().Tags)
		if mErr != nil {
			err = mErr
			return errs.Persistence("save", s.path, err)
		}
		if _, err = metaStmt.ExecContext(ctx, id, m.Title, m.Description, string(tags),
			m.HostingClub, m.Category, m.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return errs.Persistence("save", s.path, fmt.Errorf("insert metadata %s: %w", id, err))
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO index_state (id, dim, generation, count, checksum, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dim = excluded.dim,
			generation = excluded.generation,
			count = excluded.count,
			checksum = excluded.checksum,
			saved_at = excluded.saved_at`,
		snap.Dim, int64(snap.Generation), snap.Count(),
		fmt.Sprintf("%016x", digest.Sum64()), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errs.Persistence("save", s.path, err)
	}

	if err = tx.Commit(); err != nil {
		return errs.Persistence("save", s.path, err)
	}
	s.log.Debug().Int("count", snap.Count()).Uint64("generation", snap.Generation).Msg("snapshot committed")
	return nil
}

// StoredGeneration implements vectorindex.GenerationReader.
func (s *SQLiteStore) StoredGeneration(ctx context.Context) (uint64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Persistence("load", s.path, err)
	}
	defer func() { _ = tx.Rollback() }()
	gen, err := storedGeneration(ctx, tx)
	if err != nil && !errors.Is(err, errs.ErrNoSnapshot) {
		return 0, errs.Persistence("load", s.path, err)
	}
	return gen, err
}

func storedGeneration(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var gen int64
	err := tx.QueryRowContext(ctx, "SELECT generation FROM index_state WHERE id = 1").Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errs.ErrNoSnapshot
	}
	if err != nil {
		return 0, err
	}
	return uint64(gen), nil
}

// Load reads the stored snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*vectorindex.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Persistence("load", s.path, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		dim, count int
		generation int64
		sum        string
	)
	err = tx.QueryRowContext(ctx, "SELECT dim, generation, count, checksum FROM index_state WHERE id = 1").
		Scan(&dim, &generation, &count, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNoSnapshot
	}
	if err != nil {
		return nil, errs.Persistence("load", s.path, err)
	}

	snap := &vectorindex.Snapshot{
		Dim:        dim,
		Generation: uint64(generation),
		IDs:        make([]string, 0, count),
		Vectors:    make([]float32, 0, count*dim),
		Metadata:   make(map[string]vectorindex.Metadata, count),
	}

	if err := s.loadVectors(ctx, tx, snap, sum); err != nil {
		return nil, errs.Persistence("load", s.path, err)
	}
	if err := s.loadMetadata(ctx, tx, snap); err != nil {
		return nil, errs.Persistence("load", s.path, err)
	}
	if snap.Count() != count {
		return nil, errs.Persistence("load", s.path,
			fmt.Errorf("%w: index_state records %d events, found %d", errs.ErrCorruptSnapshot, count, snap.Count()))
	}
	if err := snap.Validate(); err != nil {
		return nil, errs.Persistence("load", s.path, err)
	}
	return snap, nil
}

func (s *SQLiteStore) loadVectors(ctx context.Context, tx *sql.Tx, snap *vectorindex.Snapshot, sum string) error {
	rows, err := tx.QueryContext(ctx, "SELECT slot, event_id, vector FROM event_vectors ORDER BY slot")
	if err != nil {
		return err
	}
	defer rows.Close()

	digest := xxhash.New()
	for rows.Next() {
		var (
			slot int
			id   string
			raw  []byte
		)
		if err := rows.Scan(&slot, &id, &raw); err != nil {
			return err
		}
		if slot != len(snap.IDs) {
			return fmt.Errorf("%w: expected slot %d, found %d", errs.ErrCorruptSnapshot, len(snap.IDs), slot)
		}
		if len(raw) != snap.Dim*4 {
			return fmt.Errorf("%w: vector for %s holds %d bytes, want %d", errs.ErrCorruptSnapshot, id, len(raw), snap.Dim*4)
		}
		_, _ = digest.Write(raw)
		snap.IDs = append(snap.IDs, id)
		snap.Vectors = append(snap.Vectors, decodeFloat32s(raw)...)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if got := fmt.Sprintf("%016x", digest.Sum64()); got != sum {
		return fmt.Errorf("%w: vector checksum %s, expected %s", errs.ErrCorruptSnapshot, got, sum)
	}
	return nil
}

func (s *SQLiteStore) loadMetadata(ctx context.Context, tx *sql.Tx, snap *vectorindex.Snapshot) error {
	rows, err := tx.QueryContext(ctx,
		"SELECT event_id, title, description, tags, hosting_club, category, created_at FROM event_metadata")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			m         vectorindex.Metadata
			tags      string
			createdAt string
		)
		if err := rows.Scan(&m.EventID, &m.Title, &m.Description, &tags, &m.HostingClub, &m.Category, &createdAt); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return fmt.Errorf("%w: tags for %s: %w", errs.ErrCorruptSnapshot, m.EventID, err)
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return fmt.Errorf("%w: created_at for %s: %w", errs.ErrCorruptSnapshot, m.EventID, err)
		}
		snap.Metadata[m.EventID] = m
	}
	return rows.Err()
}

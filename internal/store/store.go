// Package store provides the durable backends behind the embedding index:
// atomic snapshot directories on the local filesystem and a SQLite database.
package store

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/nvandessel/eventradar/internal/vectorindex"
)

// Backend names a persistence implementation.
type Backend string

const (
	BackendFile   Backend = "file"   // snapshot directories + CURRENT pointer
	BackendSQLite Backend = "sqlite" // single-file database, one transaction per save
)

// DefaultRetain is how many committed file snapshots are kept on disk.
const DefaultRetain = 2

// sqliteFile is the database file name inside the data directory.
const sqliteFile = "index.db"

// Persister is a vectorindex.Persister that holds resources until closed.
type Persister interface {
	vectorindex.Persister
	Close() error
}

// Options configures Open.
type Options struct {
	Dir    string // data directory; created if missing
	Retain int    // file backend only; <= 0 means DefaultRetain
	Logger *zerolog.Logger
}

// Open returns the persister for backend rooted at opts.Dir.
func Open(backend Backend, opts Options) (Persister, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("store: data directory is required")
	}
	if err := EnsureDataDir(opts.Dir); err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "store").Str("backend", string(backend)).Logger()
	}

	switch backend {
	case BackendFile, "":
		return NewFileStore(opts.Dir, opts.Retain, log)
	case BackendSQLite:
		return OpenSQLite(filepath.Join(opts.Dir, sqliteFile), log)
	default:
		return nil, fmt.Errorf("store: unknown backend %q (want %q or %q)", backend, BackendFile, BackendSQLite)
	}
}

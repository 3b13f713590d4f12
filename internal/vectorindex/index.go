// Package vectorindex provides exact nearest neighbor search over normalized
// event embeddings.
//
// The index keeps every vector in a dense, slot-addressed backing store and
// scores queries by inner product, which equals cosine similarity for unit
// vectors. The backing store has no in-place mutation primitive: removing or
// replacing an event rebuilds it from the surviving vectors, and slot numbers
// are reassigned on every rebuild.
package vectorindex

import (
	"context"
	"slices"
	"time"
)

// Metadata is the descriptive record stored next to each event vector.
// Empty HostingClub and Category mean the field is absent.
type Metadata struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	HostingClub string    `json:"hosting_club,omitempty"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	m.Tags = slices.Clone(m.Tags)
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return m
}

// Record is a stored event: its vector and its metadata.
type Record struct {
	Vector   []float32
	Metadata Metadata
}

// SearchResult pairs an event with its inner-product score.
type SearchResult struct {
	EventID  string
	Score    float64 // inner product in [-1, 1] for unit vectors, higher = more similar
	Metadata Metadata
}

// SlotRef is a cached slot position. It is only valid for the generation it
// was issued in; every committed mutation advances the generation.
type SlotRef struct {
	Slot       int
	Generation uint64
}

// Persister stores and restores whole index snapshots.
// Save must make the snapshot durable as a single unit: a reader must never
// observe the vectors of one snapshot with the sidecar of another.
type Persister interface {
	// Save durably replaces the stored snapshot. The snapshot is read-only.
	// A stored snapshot whose generation is not older than snap's is never
	// replaced; Save returns an error matching errs.ErrConflict instead.
	Save(ctx context.Context, snap *Snapshot) error

	// Load returns the stored snapshot, or an error matching
	// errs.ErrNoSnapshot when nothing has been saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// GenerationReader is implemented by persisters that can report the
// generation of the stored snapshot without decoding it, even when the
// snapshot itself is unreadable.
type GenerationReader interface {
	StoredGeneration(ctx context.Context) (uint64, error)
}

package vectorindex

import (
	"fmt"

	"github.com/nvandessel/eventradar/internal/errs"
)

// Snapshot is the persisted form of the index: vectors in slot order, the
// ids occupying those slots, and the metadata of every id. The vectors and
// the id/metadata sidecar form one logical unit.
type Snapshot struct {
	Dim        int
	Generation uint64
	IDs        []string            // slot -> id
	Vectors    []float32           // len(IDs)*Dim values, row-major by slot
	Metadata   map[string]Metadata // one entry per id
}

// Count returns the number of records in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.IDs)
}

// Vector returns a view of the vector stored at slot.
func (s *Snapshot) Vector(slot int) []float32 {
	return s.Vectors[slot*s.Dim : (slot+1)*s.Dim]
}

// IDToSlot returns the id -> slot map implied by IDs.
func (s *Snapshot) IDToSlot() map[string]int {
	m := make(map[string]int, len(s.IDs))
	for slot, id := range s.IDs {
		m[id] = slot
	}
	return m
}

// Validate checks that the vector data and the sidecar describe the same
// set of records. Any violation matches errs.ErrCorruptSnapshot.
func (s *Snapshot) Validate() error {
	if s.Dim <= 0 {
		return fmt.Errorf("%w: dimension %d", errs.ErrCorruptSnapshot, s.Dim)
	}
	if len(s.Vectors) != len(s.IDs)*s.Dim {
		return fmt.Errorf("%w: %d vector values for %d ids of dimension %d",
			errs.ErrCorruptSnapshot, len(s.Vectors), len(s.IDs), s.Dim)
	}
	if len(s.Metadata) != len(s.IDs) {
		return fmt.Errorf("%w: %d metadata records for %d ids",
			errs.ErrCorruptSnapshot, len(s.Metadata), len(s.IDs))
	}
	seen := make(map[string]struct{}, len(s.IDs))
	for slot, id := range s.IDs {
		if id == "" {
			return fmt.Errorf("%w: empty id at slot %d", errs.ErrCorruptSnapshot, slot)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %q occupies more than one slot", errs.ErrCorruptSnapshot, id)
		}
		seen[id] = struct{}{}
		meta, ok := s.Metadata[id]
		if !ok {
			return fmt.Errorf("%w: id %q has no metadata", errs.ErrCorruptSnapshot, id)
		}
		if meta.EventID != id {
			return fmt.Errorf("%w: metadata for %q names %q", errs.ErrCorruptSnapshot, id, meta.EventID)
		}
	}
	return nil
}

package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

const sidecarVersion = 1

// sidecar is the JSON document stored next to the vector blob. It carries
// both directions of the id/slot mapping plus every metadata record, and the
// checksum of the blob it belongs to.
type sidecar struct {
	Version      int                             `json:"version"`
	Generation   uint64                          `json:"generation"`
	Dim          int                             `json:"dim"`
	Count        int                             `json:"count"`
	IDToSlot     map[string]int                  `json:"id_to_slot"`
	SlotToID     map[string]string               `json:"slot_to_id"`
	Metadata     map[string]vectorindex.Metadata `json:"metadata"`
	BlobChecksum string                          `json:"blob_checksum"`
	SavedAt      time.Time                       `json:"saved_at"`
}

func newSidecar(snap *vectorindex.Snapshot, blobSum string, savedAt time.Time) *sidecar {
	sc := &sidecar{
		Version:      sidecarVersion,
		Generation:   snap.Generation,
		Dim:          snap.Dim,
		Count:        snap.Count(),
		IDToSlot:     snap.IDToSlot(),
		SlotToID:     make(map[string]string, snap.Count()),
		Metadata:     snap.Metadata,
		BlobChecksum: blobSum,
		SavedAt:      savedAt.UTC(),
	}
	for slot, id := range snap.IDs {
		sc.SlotToID[strconv.Itoa(slot)] = id
	}
	return sc
}

func encodeSidecar(sc *sidecar) ([]byte, error) {
	return json.MarshalIndent(sc, "", "  ")
}

func decodeSidecar(b []byte) (*sidecar, error) {
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("%w: decode sidecar: %w", errs.ErrCorruptSnapshot, err)
	}
	if sc.Version != sidecarVersion {
		return nil, fmt.Errorf("%w: unsupported sidecar version %d", errs.ErrCorruptSnapshot, sc.Version)
	}
	return &sc, nil
}

// slotIDs rebuilds the slot -> id list and checks it against id_to_slot.
func (sc *sidecar) slotIDs() ([]string, error) {
	if len(sc.SlotToID) != sc.Count || len(sc.IDToSlot) != sc.Count {
		return nil, fmt.Errorf("%w: sidecar maps hold %d/%d entries for %d records",
			errs.ErrCorruptSnapshot, len(sc.SlotToID), len(sc.IDToSlot), sc.Count)
	}
	ids := make([]string, sc.Count)
	for slot := range ids {
		id, ok := sc.SlotToID[strconv.Itoa(slot)]
		if !ok {
			return nil, fmt.Errorf("%w: slot %d is unassigned", errs.ErrCorruptSnapshot, slot)
		}
		if back, ok := sc.IDToSlot[id]; !ok || back != slot {
			return nil, fmt.Errorf("%w: slot %d holds %q but id_to_slot disagrees", errs.ErrCorruptSnapshot, slot, id)
		}
		ids[slot] = id
	}
	return ids, nil
}

// snapshot joins the sidecar with the decoded blob rows.
func (sc *sidecar) snapshot(blobDim int, vectors []float32) (*vectorindex.Snapshot, error) {
	if blobDim != sc.Dim {
		return nil, fmt.Errorf("%w: blob dimension %d, sidecar dimension %d", errs.ErrCorruptSnapshot, blobDim, sc.Dim)
	}
	ids, err := sc.slotIDs()
	if err != nil {
		return nil, err
	}
	meta := sc.Metadata
	if meta == nil {
		meta = make(map[string]vectorindex.Metadata)
	}
	snap := &vectorindex.Snapshot{
		Dim:        sc.Dim,
		Generation: sc.Generation,
		IDs:        ids,
		Vectors:    vectors,
		Metadata:   meta,
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

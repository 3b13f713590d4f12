package vectorindex

import (
	"cmp"
	"context"
	"slices"

	"github.com/nvandessel/eventradar/internal/vecmath"
)

// ctxCheckEvery is how many rows a scan processes between context checks.
const ctxCheckEvery = 1024

// flatStore is the exact inner-product backing store: n vectors of dim
// float32 each, laid out row-major by slot. It supports append, exact
// reconstruction by slot and exhaustive search, and nothing else.
//
// A flatStore is never modified after it has been published in a state;
// append returns a new store that may share the old one's spare capacity.
type flatStore struct {
	dim  int
	data []float32
}

func newFlatStore(dim, capacity int) *flatStore {
	return &flatStore{dim: dim, data: make([]float32, 0, capacity*dim)}
}

func (f *flatStore) len() int {
	return len(f.data) / f.dim
}

// row returns a view of the vector at slot. Callers must not modify it.
func (f *flatStore) row(slot int) []float32 {
	return f.data[slot*f.dim : (slot+1)*f.dim]
}

// reconstruct returns a copy of the vector at slot, bit-identical to the one
// that was appended.
func (f *flatStore) reconstruct(slot int) []float32 {
	return slices.Clone(f.row(slot))
}

// append returns a store holding f's rows followed by v.
func (f *flatStore) append(v []float32) *flatStore {
	return &flatStore{dim: f.dim, data: append(f.data, v...)}
}

type hit struct {
	slot  int
	score float64
}

// search scores every row against q and returns the k best, ordered by
// descending score and then by ascending slot.
func (f *flatStore) search(ctx context.Context, q []float32, k int) ([]hit, error) {
	n := f.len()
	hits := make([]hit, n)
	for slot := 0; slot < n; slot++ {
		if slot%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[slot] = hit{slot: slot, score: vecmath.Dot(q, f.row(slot))}
	}

	slices.SortFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.slot, b.slot)
	})

	if k > n {
		k = n
	}
	return hits[:k], nil
}

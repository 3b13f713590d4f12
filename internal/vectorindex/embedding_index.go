package vectorindex

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/metrics"
)

// Config configures an Index.
type Config struct {
	// Dim is the required vector length (the projection dimension P).
	Dim int

	// Persister receives a full snapshot after every mutation. Nil keeps the
	// index in memory only.
	Persister Persister

	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger

	// Now stamps CreatedAt on inserted records. Defaults to time.Now.
	Now func() time.Time

	// Generation is the starting generation of an index made by New. It is
	// treated as already persisted, so an index started empty over the
	// stored generation never flushes until it is mutated.
	Generation uint64
}

// state is one immutable version of the index.
type state struct {
	store *flatStore
	table *slotTable
	meta  map[string]Metadata
}

func emptyState(dim int) *state {
	return &state{
		store: newFlatStore(dim, 0),
		table: newSlotTable(),
		meta:  make(map[string]Metadata),
	}
}

// Index is the mutable event embedding store.
//
// Mutations (Add, Update, Remove, Save, Close) hold the write lock for their
// whole duration, including the synchronous flush to the Persister, so they
// exclude every other operation. Reads (Search, Get, Count, ...) share the
// read lock. Each mutation builds the next state copy-on-write and publishes
// it only after the flush succeeded; a failed flush leaves both memory and
// disk at the previous state.
type Index struct {
	mu        sync.RWMutex
	dim       int
	cur       *state
	persister Persister
	persisted uint64 // generation known to be stored
	closed    bool
	log       zerolog.Logger
	now       func() time.Time
}

// New creates an empty index. It does not read from the persister.
func New(cfg Config) *Index {
	if cfg.Dim <= 0 {
		panic("vectorindex: Dim must be positive")
	}
	x := &Index{
		dim:       cfg.Dim,
		cur:       emptyState(cfg.Dim),
		persister: cfg.Persister,
		persisted: cfg.Generation,
		log:       zerolog.Nop(),
		now:       cfg.Now,
	}
	x.cur.table.generation = cfg.Generation
	if cfg.Logger != nil {
		x.log = cfg.Logger.With().Str("component", "vectorindex").Logger()
	}
	if x.now == nil {
		x.now = time.Now
	}
	return x
}

// Open creates an index and loads the persisted snapshot, if any.
//
// A missing snapshot yields an empty index. Any other load failure is
// returned as an *errs.PersistenceError and no index is returned; falling
// back to an empty index is the caller's decision.
func Open(ctx context.Context, cfg Config) (*Index, error) {
	x := New(cfg)
	if x.persister == nil {
		return x, nil
	}

	start := time.Now()
	snap, err := x.persister.Load(ctx)
	metrics.ObservePersist(x.persister.Name(), "load", start)
	if errors.Is(err, errs.ErrNoSnapshot) {
		x.log.Info().Str("backend", x.persister.Name()).Msg("no persisted snapshot, starting with an empty index")
		return x, nil
	}
	if err != nil {
		return nil, errs.Persistence("load", "", err)
	}
	if err := snap.Validate(); err != nil {
		return nil, errs.Persistence("load", "", err)
	}
	if snap.Dim != x.dim {
		return nil, errs.Persistence("load", "", &errs.DimensionMismatchError{What: "persisted snapshot", Want: x.dim, Got: snap.Dim})
	}

	st := &state{
		store: &flatStore{dim: snap.Dim, data: slices.Clone(snap.Vectors)},
		table: tableFromIDs(slices.Clone(snap.IDs)),
		meta:  make(map[string]Metadata, len(snap.Metadata)),
	}
	st.table.generation = snap.Generation
	for id, m := range snap.Metadata {
		st.meta[id] = m.Clone()
	}
	x.cur = st
	x.persisted = snap.Generation
	metrics.IndexedEvents.Set(float64(st.table.len()))

	x.log.Info().
		Str("backend", x.persister.Name()).
		Int("count", st.table.len()).
		Uint64("generation", snap.Generation).
		Dur("took", time.Since(start)).
		Msg("index loaded")
	return x, nil
}

// Dim returns the vector dimension the index accepts.
func (x *Index) Dim() int {
	return x.dim
}

// Count returns the number of live records.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cur.table.len()
}

// Generation returns the generation of the current slot table.
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cur.table.generation
}

// IDs returns every stored event id in slot (insertion) order.
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Clone(x.cur.table.ids)
}

// Add stores vector and meta under id. An existing id is updated instead;
// Add never reports a duplicate.
func (x *Index) Add(ctx context.Context, id string, vector []float32, meta Metadata) error {
	if err := x.checkInput(id, vector); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return errs.ErrClosed
	}

	if _, ok := x.cur.table.lookup(id); ok {
		return x.commit(ctx, "update", x.cur.without(id).withAppended(id, vector, x.stamp(id, meta)))
	}
	return x.commit(ctx, "add", x.cur.withAppended(id, vector, x.stamp(id, meta)))
}

// Update replaces the record for id by removing it and appending the new
// version, which rebuilds the backing store. An unknown id is inserted.
func (x *Index) Update(ctx context.Context, id string, vector []float32, meta Metadata) error {
	return x.Add(ctx, id, vector, meta)
}

// Remove deletes id and rebuilds the backing store from the survivors,
// reassigning slots 0..n-1 in their original relative order. It reports
// false, with no error, for an unknown id.
func (x *Index) Remove(ctx context.Context, id string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return false, errs.ErrClosed
	}

	if _, ok := x.cur.table.lookup(id); !ok {
		return false, nil
	}
	if err := x.commit(ctx, "remove", x.cur.without(id)); err != nil {
		return false, err
	}
	return true, nil
}

// Search returns up to k records ordered by descending inner product with
// query. Equal scores are ordered by ascending slot, i.e. insertion order.
// An empty index or k <= 0 yields an empty result.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if err := errs.CheckDim("query", query, x.dim); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	st := x.cur
	if st.table.len() == 0 || k <= 0 {
		return nil, nil
	}

	start := time.Now()
	hits, err := st.store.search(ctx, query, k)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, errs.FromContext(err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		id := st.table.ids[h.slot]
		results = append(results, SearchResult{
			EventID:  id,
			Score:    h.score,
			Metadata: st.meta[id].Clone(),
		})
	}
	return results, nil
}

// Get returns the stored vector and metadata for id.
func (x *Index) Get(id string) (Record, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	slot, ok := x.cur.table.lookup(id)
	if !ok {
		return Record{}, errs.ErrNotFound
	}
	return Record{
		Vector:   x.cur.store.reconstruct(slot),
		Metadata: x.cur.meta[id].Clone(),
	}, nil
}

// Lookup returns the current slot of id stamped with the current generation.
func (x *Index) Lookup(id string) (SlotRef, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	slot, ok := x.cur.table.lookup(id)
	if !ok {
		return SlotRef{}, false
	}
	return SlotRef{Slot: slot, Generation: x.cur.table.generation}, true
}

// VectorAt returns the vector at ref, or errs.ErrStaleSlot if the index has
// been mutated since ref was issued.
func (x *Index) VectorAt(ref SlotRef) ([]float32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if ref.Generation != x.cur.table.generation {
		return nil, errs.ErrStaleSlot
	}
	if ref.Slot < 0 || ref.Slot >= x.cur.table.len() {
		return nil, errs.ErrNotFound
	}
	return x.cur.store.reconstruct(ref.Slot), nil
}

// Save writes the current state to the persister unless it is already
// stored. It is a mutation-class operation and excludes concurrent reads
// while it runs.
func (x *Index) Save(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.flushPending(ctx)
}

// Close flushes any unpersisted state and rejects later mutations. An index
// that was only read writes nothing. Reads keep working on the final state.
func (x *Index) Close(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	err := x.flushPending(ctx)
	x.closed = true
	return err
}

// flushPending flushes x.cur when its generation is not stored yet. Caller
// must hold x.mu for writing.
func (x *Index) flushPending(ctx context.Context) error {
	if x.cur.table.generation == x.persisted {
		return nil
	}
	if err := x.flush(ctx, x.cur); err != nil {
		return err
	}
	x.persisted = x.cur.table.generation
	return nil
}

// Closed reports whether Close has been called.
func (x *Index) Closed() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.closed
}

func (x *Index) checkInput(id string, vector []float32) error {
	if id == "" {
		return errs.Invalid("event_id", "must not be empty")
	}
	return errs.CheckDim("vector", vector, x.dim)
}

func (x *Index) stamp(id string, meta Metadata) Metadata {
	meta = meta.Clone()
	meta.EventID = id
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = x.now().UTC()
	}
	return meta
}

// commit flushes next and, on success, publishes it. Caller must hold x.mu
// for writing.
func (x *Index) commit(ctx context.Context, op string, next *state) error {
	next.table.generation = x.cur.table.generation + 1
	if err := x.flush(ctx, next); err != nil {
		metrics.IndexMutationsTotal.WithLabelValues(op, "error").Inc()
		x.log.Error().Err(err).Str("op", op).Msg("flush failed, mutation rolled back")
		return err
	}
	x.cur = next
	x.persisted = next.table.generation
	metrics.IndexMutationsTotal.WithLabelValues(op, "ok").Inc()
	metrics.IndexedEvents.Set(float64(next.table.len()))
	x.log.Debug().
		Str("op", op).
		Int("count", next.table.len()).
		Uint64("generation", next.table.generation).
		Msg("index mutation committed")
	return nil
}

// flush persists st. Caller must hold x.mu for writing.
func (x *Index) flush(ctx context.Context, st *state) error {
	if x.persister == nil {
		return nil
	}
	start := time.Now()
	err := x.persister.Save(ctx, st.snapshot())
	metrics.ObservePersist(x.persister.Name(), "save", start)
	return errs.Persistence("save", "", err)
}

func (s *state) snapshot() *Snapshot {
	return &Snapshot{
		Dim:        s.store.dim,
		Generation: s.table.generation,
		IDs:        s.table.ids,
		Vectors:    s.store.data,
		Metadata:   s.meta,
	}
}

// withAppended returns the state with one more record at the next slot.
func (s *state) withAppended(id string, vector []float32, meta Metadata) *state {
	next := &state{
		store: s.store.append(vector),
		table: s.table.withAppended(id),
		meta:  maps.Clone(s.meta),
	}
	next.meta[id] = meta
	return next
}

// without returns the state rebuilt from every record except id. Survivors
// are reconstructed from the backing store and re-inserted in slot order.
func (s *state) without(id string) *state {
	start := time.Now()
	defer func() {
		metrics.IndexRebuildDuration.Observe(time.Since(start).Seconds())
	}()

	survivors := make([]string, 0, s.table.len())
	for _, other := range s.table.ids {
		if other != id {
			survivors = append(survivors, other)
		}
	}
	if len(survivors) == 0 {
		return emptyState(s.store.dim)
	}

	store := newFlatStore(s.store.dim, len(survivors))
	meta := make(map[string]Metadata, len(survivors))
	for _, other := range survivors {
		slot, _ := s.table.lookup(other)
		store = store.append(s.store.reconstruct(slot))
		meta[other] = s.meta[other]
	}
	return &state{
		store: store,
		table: tableFromIDs(survivors),
		meta:  meta,
	}
}

// Package ranking is the recommendation engine: it turns event fields and
// user profiles into projected vectors, keeps events in the embedding index
// and ranks them for a user with exclusion-aware top-K search.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/eventradar/internal/encoder"
	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/metrics"
	"github.com/nvandessel/eventradar/internal/projection"
	"github.com/nvandessel/eventradar/internal/sanitize"
	"github.com/nvandessel/eventradar/internal/tagging"
	"github.com/nvandessel/eventradar/internal/validation"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

// Defaults for Options fields left at zero.
const (
	DefaultTopK          = 10
	DefaultMaxTopK       = 100
	DefaultSearchTimeout = 5 * time.Second
	DefaultSaveTimeout   = 30 * time.Second
	DefaultLoadTimeout   = 30 * time.Second

	// userEncodeConcurrency bounds parallel encoder calls per user profile.
	userEncodeConcurrency = 4
)

// Options configures an Engine.
type Options struct {
	Encoder   encoder.Encoder
	Stage     *projection.Stage
	Persister vectorindex.Persister // nil keeps the index in memory only

	DefaultTopK   int
	MaxTopK       int
	SearchTimeout time.Duration
	SaveTimeout   time.Duration
	LoadTimeout   time.Duration

	// AllowEmptyOnLoadError starts with an empty index when the persisted
	// snapshot cannot be loaded. The failure is still logged at error level.
	AllowEmptyOnLoadError bool

	Logger *zerolog.Logger
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = DefaultTopK
	}
	if o.MaxTopK <= 0 {
		o.MaxTopK = DefaultMaxTopK
	}
	if o.DefaultTopK > o.MaxTopK {
		o.DefaultTopK = o.MaxTopK
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = DefaultSearchTimeout
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = DefaultSaveTimeout
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = DefaultLoadTimeout
	}
}

// Engine owns the embedding index and the models that feed it. It is safe
// for concurrent use; index mutations are serialized by the index itself.
type Engine struct {
	opts    Options
	enc     encoder.Encoder
	stage   *projection.Stage
	index   *vectorindex.Index
	backend string
	log     zerolog.Logger
}

// Open builds an engine and loads the persisted index.
//
// A load failure is returned unless AllowEmptyOnLoadError is set, in which
// case the engine starts empty at the stored generation. Nothing is written
// back until a mutation commits, which then replaces the unreadable state.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Encoder == nil {
		return nil, errors.New("ranking: encoder is required")
	}
	if opts.Stage == nil {
		return nil, errors.New("ranking: projection stage is required")
	}
	if opts.Encoder.Dim() != opts.Stage.InputDim() {
		return nil, fmt.Errorf("ranking: %w", &errs.DimensionMismatchError{
			What: "encoder output", Want: opts.Stage.InputDim(), Got: opts.Encoder.Dim(),
		})
	}
	opts.setDefaults()

	e := &Engine{
		opts:  opts,
		enc:   opts.Encoder,
		stage: opts.Stage,
		log:   zerolog.Nop(),
	}
	if opts.Logger != nil {
		e.log = opts.Logger.With().Str("component", "ranking").Logger()
	}
	if opts.Persister != nil {
		e.backend = opts.Persister.Name()
	}

	cfg := vectorindex.Config{
		Dim:       opts.Stage.OutputDim(),
		Persister: opts.Persister,
		Logger:    opts.Logger,
		Now:       opts.Now,
	}

	loadCtx, cancel := context.WithTimeout(ctx, opts.LoadTimeout)
	defer cancel()
	idx, err := vectorindex.Open(loadCtx, cfg)
	if err != nil {
		if !opts.AllowEmptyOnLoadError {
			return nil, err
		}
		if gr, ok := opts.Persister.(vectorindex.GenerationReader); ok {
			if gen, gerr := gr.StoredGeneration(loadCtx); gerr == nil {
				cfg.Generation = gen
			}
		}
		e.log.Error().
			Err(err).
			Str("backend", e.backend).
			Uint64("generation", cfg.Generation).
			Msg("could not load persisted index; starting EMPTY, the next write replaces the stored snapshot")
		idx = vectorindex.New(cfg)
	}
	e.index = idx

	e.log.Info().
		Int("indexed", idx.Count()).
		Int("dim", idx.Dim()).
		Str("encoder", e.enc.Name()).
		Str("weights", e.stage.WeightsSource()).
		Bool("trained", e.stage.Trained()).
		Msg("engine ready")
	return e, nil
}

// Index exposes the underlying index for read-only inspection.
func (e *Engine) Index() *vectorindex.Index { return e.index }

// EmbedEvent builds the event vector and, when store is set, upserts it into
// the index. The index write is durable when EmbedEvent returns. Encoder or
// projection failures abort before the index is touched.
func (e *Engine) EmbedEvent(ctx context.Context, in EventInput, store bool) (EmbedResult, error) {
	ev, err := cleanEvent(in)
	if err != nil {
		return EmbedResult{}, err
	}

	text := projection.EventText(ev.Title, ev.Description, ev.Tags, ev.HostingClub, ev.Category)
	embs, err := e.enc.Encode(ctx, []string{text})
	if err != nil {
		return EmbedResult{}, fmt.Errorf("encoding event %s: %w", ev.EventID, errs.FromContext(err))
	}
	vec, err := e.stage.ProjectEvent(embs[0])
	if err != nil {
		return EmbedResult{}, fmt.Errorf("projecting event %s: %w", ev.EventID, err)
	}

	res := EmbedResult{EventID: ev.EventID, Vector: vec, Dim: len(vec)}
	if !store {
		return res, nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()
	err = e.index.Add(saveCtx, ev.EventID, vec, vectorindex.Metadata{
		Title:       ev.Title,
		Description: ev.Description,
		Tags:        ev.Tags,
		HostingClub: ev.HostingClub,
		Category:    ev.Category,
	})
	if err != nil {
		return EmbedResult{}, fmt.Errorf("storing event %s: %w", ev.EventID, err)
	}
	res.Stored = true
	e.log.Info().Str("event_id", ev.EventID).Int("indexed", e.index.Count()).Msg("event stored")
	return res, nil
}

// EmbedUser encodes each user text in parallel, mean-pools the encodings and
// projects the result through the user tower.
func (e *Engine) EmbedUser(ctx context.Context, p UserProfile) ([]float32, error) {
	u, err := cleanUser(p)
	if err != nil {
		return nil, err
	}
	texts := projection.UserTexts(u.Major, u.YearOfStudy, u.Interests, u.AttendedEvents)

	embs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(userEncodeConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			out, err := e.enc.Encode(gctx, []string{text})
			if err != nil {
				return err
			}
			embs[i] = out[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("encoding user profile: %w", errs.FromContext(err))
	}

	vec, err := e.stage.ProjectUser(embs)
	if err != nil {
		return nil, fmt.Errorf("projecting user profile: %w", err)
	}
	return vec, nil
}

// Recommend returns the events closest to the user, best first.
//
// The search is widened by the number of exclusions and excluded events are
// filtered afterwards. This is best effort: when excluded events are not
// among the extra candidates, the list comes back shorter than TopK and is
// counted as under-filled. An out-of-range TopK is clamped, never an error.
func (e *Engine) Recommend(ctx context.Context, req RecommendRequest) (recs *Recommendations, err error) {
	start := time.Now()
	reqID := uuid.NewString()
	log := e.log.With().Str("request_id", reqID).Logger()
	defer func() {
		metrics.RecommendRequestsTotal.WithLabelValues(metrics.Outcome(err)).Inc()
		if err != nil {
			log.Warn().Err(err).Msg("recommend failed")
		}
	}()

	topK := e.clampTopK(req.TopK)

	userVec, err := e.EmbedUser(ctx, req.User)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		if id = sanitize.ID(id); id != "" {
			exclude[id] = true
		}
	}
	searchK := topK + len(exclude)

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()
	hits, err := e.index.Search(searchCtx, userVec, searchK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	total := e.index.Count()

	results := make([]Result, 0, min(topK, len(hits)))
	for _, hit := range hits {
		if exclude[hit.EventID] {
			continue
		}
		results = append(results, resultFrom(hit))
		if len(results) == topK {
			break
		}
	}

	if len(results) < topK && e.eligible(total, exclude) >= topK {
		metrics.RecommendUnderfilledTotal.Inc()
		log.Info().
			Int("top_k", topK).
			Int("returned", len(results)).
			Int("excluded", len(exclude)).
			Msg("recommendations under-filled after exclusion filtering")
	}

	log.Debug().
		Int("top_k", topK).
		Int("search_k", searchK).
		Int("returned", len(results)).
		Dur("took", time.Since(start)).
		Msg("recommend")

	return &Recommendations{RequestID: reqID, Results: results, TotalIndexed: total}, nil
}

// eligible counts indexed events that are not excluded.
func (e *Engine) eligible(total int, exclude map[string]bool) int {
	n := total
	for id := range exclude {
		if _, ok := e.index.Lookup(id); ok {
			n--
		}
	}
	return n
}

func (e *Engine) clampTopK(k *int) int {
	if k == nil {
		return e.opts.DefaultTopK
	}
	return min(max(1, *k), e.opts.MaxTopK)
}

// RemoveEvent deletes an event. It reports false for unknown ids.
func (e *Engine) RemoveEvent(ctx context.Context, id string) (bool, error) {
	id = sanitize.ID(id)
	if id == "" {
		return false, errs.Invalid("event_id", "is required")
	}
	saveCtx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()
	removed, err := e.index.Remove(saveCtx, id)
	if err != nil {
		return false, fmt.Errorf("removing event %s: %w", id, err)
	}
	if removed {
		e.log.Info().Str("event_id", id).Int("indexed", e.index.Count()).Msg("event removed")
	}
	return removed, nil
}

// GetEvent returns a stored event, or errs.ErrNotFound.
func (e *Engine) GetEvent(id string) (vectorindex.Record, error) {
	return e.index.Get(sanitize.ID(id))
}

// Health reports the engine state. The encoder is checked when it supports
// health checks; an unreachable encoder degrades the status.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{
		Status:         StatusHealthy,
		Loaded:         !e.index.Closed(),
		IndexedCount:   e.index.Count(),
		EmbeddingDim:   e.index.Dim(),
		WeightsSource:  e.stage.WeightsSource(),
		Trained:        e.stage.Trained(),
		Encoder:        e.enc.Name(),
		EncoderHealthy: true,
		Backend:        e.backend,
		Generation:     e.index.Generation(),
	}
	if hc, ok := e.enc.(encoder.HealthChecker); ok {
		h.EncoderHealthy = hc.IsHealthy(ctx)
	}
	switch {
	case !h.Loaded:
		h.Status = StatusUnhealthy
	case !h.EncoderHealthy:
		h.Status = StatusDegraded
	}
	return h
}

// Close flushes any unpersisted index state and shuts the engine down.
// Later mutations fail with errs.ErrClosed. The persister is owned by the
// caller.
func (e *Engine) Close(ctx context.Context) error {
	saveCtx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
	defer cancel()
	if err := e.index.Close(saveCtx); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	e.log.Info().Int("indexed", e.index.Count()).Msg("engine shut down")
	return nil
}

// cleanEvent sanitizes and validates an event.
func cleanEvent(in EventInput) (EventInput, error) {
	out := EventInput{
		EventID:     sanitize.ID(in.EventID),
		Title:       sanitize.Title(in.Title),
		Description: sanitize.Description(in.Description),
		HostingClub: sanitize.Label(in.HostingClub),
		Category:    sanitize.Label(in.Category),
	}
	if out.HostingClub == "" {
		out.HostingClub = sanitize.Label(in.ClubName)
	}
	tags, err := tagging.Normalize(in.Tags)
	if err != nil {
		return EventInput{}, errs.Invalid("tags", err.Error())
	}
	out.Tags = tags
	if err := validation.Struct(&out); err != nil {
		return EventInput{}, err
	}
	return out, nil
}

// cleanUser sanitizes and validates a user profile.
func cleanUser(in UserProfile) (UserProfile, error) {
	out := UserProfile{
		Major:       sanitize.Label(in.Major),
		YearOfStudy: sanitize.Label(in.YearOfStudy),
	}
	for _, s := range in.Interests {
		out.Interests = append(out.Interests, sanitize.Label(s))
	}
	for _, s := range in.AttendedEvents {
		out.AttendedEvents = append(out.AttendedEvents, sanitize.Description(s))
	}
	if err := validation.Struct(&out); err != nil {
		return UserProfile{}, err
	}
	return out, nil
}

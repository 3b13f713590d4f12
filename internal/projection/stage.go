package projection

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nvandessel/eventradar/internal/vecmath"
)

// Source records where a tower's weights came from.
type Source string

const (
	SourceCheckpoint Source = "checkpoint"
	SourceXavier     Source = "xavier-init"
)

// Tower is one projector with its provenance.
type Tower struct {
	Name      string
	Projector *Projector
	Source    Source
	Path      string // checkpoint path, if Source is SourceCheckpoint
}

// Options configures NewStage.
type Options struct {
	Shape           Shape
	EventCheckpoint string
	UserCheckpoint  string
	Logger          *zerolog.Logger
}

// Stage holds the event tower and the user tower. The towers never share
// weights.
type Stage struct {
	Event Tower
	User  Tower
}

// NewStage builds both towers. A tower whose checkpoint is absent or
// unreadable falls back to its seeded Xavier initialization; that is logged
// and reported by WeightsSource, never returned as an error.
func NewStage(opts Options) *Stage {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "projection").Logger()
	}
	if opts.Shape == (Shape{}) {
		opts.Shape = DefaultShape()
	}
	return &Stage{
		Event: loadTower(log, "event", opts.EventCheckpoint, opts.Shape, EventSeed),
		User:  loadTower(log, "user", opts.UserCheckpoint, opts.Shape, UserSeed),
	}
}

func loadTower(log zerolog.Logger, name, path string, shape Shape, seed uint64) Tower {
	if path != "" {
		p, err := LoadCheckpoint(path, shape)
		switch {
		case err == nil:
			log.Info().Str("tower", name).Str("path", path).Msg("loaded projection weights")
			return Tower{Name: name, Projector: p, Source: SourceCheckpoint, Path: path}
		case errors.Is(err, fs.ErrNotExist):
			log.Info().Str("tower", name).Str("path", path).Msg("no checkpoint found")
		default:
			log.Error().Err(err).Str("tower", name).Str("path", path).Msg("could not load projection weights")
		}
	}
	log.Warn().
		Str("tower", name).
		Uint64("seed", seed).
		Msg("using untrained initialization; recommendations reflect random projections")
	return Tower{Name: name, Projector: NewXavier(shape, seed), Source: SourceXavier}
}

// InputDim returns the encoder dimension both towers expect.
func (s *Stage) InputDim() int { return s.Event.Projector.InputDim() }

// OutputDim returns the dimension of projected vectors.
func (s *Stage) OutputDim() int { return s.Event.Projector.OutputDim() }

// ProjectEvent maps one event text embedding into the shared space.
func (s *Stage) ProjectEvent(embedding []float32) ([]float32, error) {
	return s.Event.Projector.Project(embedding)
}

// ProjectUser mean-pools the per-field embeddings of a user and projects the
// pooled vector.
func (s *Stage) ProjectUser(embeddings [][]float32) ([]float32, error) {
	pooled, err := vecmath.MeanPool(embeddings)
	if err != nil {
		return nil, fmt.Errorf("pooling user embeddings: %w", err)
	}
	return s.User.Projector.Project(pooled)
}

// WeightsSource summarizes both towers' provenance, e.g.
// "event=checkpoint,user=xavier-init".
func (s *Stage) WeightsSource() string {
	return strings.Join([]string{
		"event=" + string(s.Event.Source),
		"user=" + string(s.User.Source),
	}, ",")
}

// Trained reports whether both towers loaded checkpoints.
func (s *Stage) Trained() bool {
	return s.Event.Source == SourceCheckpoint && s.User.Source == SourceCheckpoint
}

package seed

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/nvandessel/eventradar/internal/errs"
	"github.com/nvandessel/eventradar/internal/ranking"
	"github.com/nvandessel/eventradar/internal/vectorindex"
)

// Target is the part of the ranking engine the seeder needs.
type Target interface {
	GetEvent(id string) (vectorindex.Record, error)
	EmbedEvent(ctx context.Context, in ranking.EventInput, store bool) (ranking.EmbedResult, error)
}

// Seeder injects the sample catalog into an engine.
type Seeder struct {
	target Target
}

// NewSeeder creates a new Seeder for the given engine.
func NewSeeder(t Target) *Seeder {
	return &Seeder{target: t}
}

// Result reports what the seeder did.
type Result struct {
	Added   []string `json:"added"`   // ids of newly stored samples
	Updated []string `json:"updated"` // ids whose stored fields differed
	Skipped []string `json:"skipped"` // ids already up to date
	Total   int      `json:"total"`
}

// Seed ensures every sample event is stored. It is idempotent: samples
// whose stored fields match the definition are skipped, changed samples
// are re-embedded.
func (s *Seeder) Seed(ctx context.Context) (*Result, error) {
	samples := sampleEvents()
	result := &Result{Total: len(samples)}

	for _, ev := range samples {
		rec, err := s.target.GetEvent(ev.EventID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			if _, err := s.target.EmbedEvent(ctx, ev, true); err != nil {
				return result, fmt.Errorf("adding sample %s: %w", ev.EventID, err)
			}
			result.Added = append(result.Added, ev.EventID)
		case err != nil:
			return result, fmt.Errorf("checking sample %s: %w", ev.EventID, err)
		case !matches(rec.Metadata, ev):
			if _, err := s.target.EmbedEvent(ctx, ev, true); err != nil {
				return result, fmt.Errorf("updating sample %s: %w", ev.EventID, err)
			}
			result.Updated = append(result.Updated, ev.EventID)
		default:
			result.Skipped = append(result.Skipped, ev.EventID)
		}
	}
	return result, nil
}

func matches(m vectorindex.Metadata, ev ranking.EventInput) bool {
	return m.Title == ev.Title &&
		m.Description == ev.Description &&
		slices.Equal(m.Tags, ev.Tags) &&
		m.HostingClub == ev.HostingClub &&
		m.Category == ev.Category
}

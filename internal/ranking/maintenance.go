package ranking

import (
	"context"
	"fmt"
	"time"
)

// Import embeds and stores each event in order. Failures are recorded per
// event and do not stop the import; a canceled context does, and the
// remaining events are reported as failed.
//
// Every stored event is flushed individually, so an import of n events
// performs n snapshot writes.
func (e *Engine) Import(ctx context.Context, events []EventInput) ImportSummary {
	start := time.Now()
	sum := ImportSummary{Total: len(events), Errors: []ImportError{}}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			for _, rest := range events[i:] {
				sum.fail(rest.EventID, err)
			}
			break
		}
		if _, err := e.EmbedEvent(ctx, ev, true); err != nil {
			sum.fail(ev.EventID, err)
			continue
		}
		sum.Success++
	}

	e.log.Info().
		Int("total", sum.Total).
		Int("success", sum.Success).
		Int("failed", sum.Failed).
		Dur("took", time.Since(start)).
		Msg("import finished")
	return sum
}

func (s *ImportSummary) fail(id string, err error) {
	if id == "" {
		id = "unknown"
	}
	s.Failed++
	s.Errors = append(s.Errors, ImportError{EventID: id, Error: err.Error()})
}

// Reindex re-embeds every stored event from its metadata with the current
// encoder and projection weights. Events are processed in slot order, so the
// final slot order matches the original one. It returns the number of events
// re-embedded.
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	start := time.Now()
	ids := e.index.IDs()
	done := 0
	for _, id := range ids {
		rec, err := e.index.Get(id)
		if err != nil {
			return done, fmt.Errorf("reindex %s: %w", id, err)
		}
		m := rec.Metadata
		_, err = e.EmbedEvent(ctx, EventInput{
			EventID:     m.EventID,
			Title:       m.Title,
			Description: m.Description,
			Tags:        m.Tags,
			HostingClub: m.HostingClub,
			Category:    m.Category,
		}, true)
		if err != nil {
			return done, fmt.Errorf("reindex %s: %w", id, err)
		}
		done++
	}
	e.log.Info().
		Int("events", done).
		Str("weights", e.stage.WeightsSource()).
		Dur("took", time.Since(start)).
		Msg("reindex finished")
	return done, nil
}

package ranking

import (
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/nvandessel/eventradar/internal/vectorindex"
)

// EventInput is an event to embed. Tags, HostingClub and Category are
// optional; ClubName is accepted as an alias for HostingClub in import files.
type EventInput struct {
	EventID     string   `json:"event_id" yaml:"event_id" validate:"required,notblank"`
	Title       string   `json:"title" yaml:"title" validate:"required,notblank"`
	Description string   `json:"description" yaml:"description" validate:"required,notblank"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty" validate:"max=20,dive,notblank"`
	HostingClub string   `json:"hosting_club,omitempty" yaml:"hosting_club,omitempty"`
	ClubName    string   `json:"club_name,omitempty" yaml:"club_name,omitempty"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
}

// UserProfile describes the user a recommendation is built for. It is never
// stored.
type UserProfile struct {
	Major          string   `json:"major" yaml:"major" validate:"required,notblank"`
	YearOfStudy    string   `json:"year_of_study" yaml:"year_of_study" validate:"required,notblank"`
	Interests      []string `json:"clubs_or_interests" yaml:"clubs_or_interests" validate:"dive,notblank"`
	AttendedEvents []string `json:"attended_events,omitempty" yaml:"attended_events,omitempty" validate:"dive,notblank"`
}

// RecommendRequest asks for the TopK events closest to User. A nil TopK
// selects the default; any other value is clamped into [1, MaxTopK].
type RecommendRequest struct {
	User       UserProfile `json:"user" yaml:"user"`
	TopK       *int        `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	ExcludeIDs []string    `json:"exclude_event_ids,omitempty" yaml:"exclude_event_ids,omitempty"`
}

// Result is one recommended event. Score keeps full precision; it is
// rounded to 4 decimals only when marshaled.
type Result struct {
	EventID     string
	Score       float64
	Title       string
	Description string
	Tags        []string
	HostingClub string
	Category    string
	CreatedAt   time.Time
}

type resultJSON struct {
	EventID     string    `json:"event_id"`
	Score       float64   `json:"score"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	HostingClub *string   `json:"hosting_club"`
	Category    *string   `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// MarshalJSON renders absent HostingClub and Category as null.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		EventID:     r.EventID,
		Score:       RoundScore(r.Score),
		Title:       r.Title,
		Description: r.Description,
		Tags:        r.Tags,
		HostingClub: optional(r.HostingClub),
		Category:    optional(r.Category),
		CreatedAt:   r.CreatedAt,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return json.Marshal(out)
}

// RoundScore rounds a score to 4 decimals for display.
func RoundScore(s float64) float64 {
	return math.Round(s*1e4) / 1e4
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func resultFrom(hit vectorindex.SearchResult) Result {
	m := hit.Metadata
	return Result{
		EventID:     hit.EventID,
		Score:       hit.Score,
		Title:       m.Title,
		Description: m.Description,
		Tags:        m.Tags,
		HostingClub: m.HostingClub,
		Category:    m.Category,
		CreatedAt:   m.CreatedAt,
	}
}

// Recommendations is the ranked response plus the index size at query time.
type Recommendations struct {
	RequestID    string   `json:"request_id"`
	Results      []Result `json:"recommendations"`
	TotalIndexed int      `json:"total_events"`
}

// EmbedResult is returned by EmbedEvent.
type EmbedResult struct {
	EventID string    `json:"event_id"`
	Vector  []float32 `json:"embedding"`
	Dim     int       `json:"embedding_dim"`
	Stored  bool      `json:"stored"`
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health summarizes the engine for the health operation.
type Health struct {
	Status         string `json:"status"`
	Loaded         bool   `json:"model_loaded"`
	IndexedCount   int    `json:"event_count"`
	EmbeddingDim   int    `json:"embedding_dim"`
	WeightsSource  string `json:"weights_source"`
	Trained        bool   `json:"weights_trained"`
	Encoder        string `json:"encoder"`
	EncoderHealthy bool   `json:"encoder_healthy"`
	Backend        string `json:"backend,omitempty"`
	Generation     uint64 `json:"generation"`
}

// ImportError records one event that failed to import.
type ImportError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// ImportSummary reports a bulk import.
type ImportSummary struct {
	Total   int           `json:"total"`
	Success int           `json:"success"`
	Failed  int           `json:"failed"`
	Errors  []ImportError `json:"errors"`
}

package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/nvandessel/eventradar/internal/metrics"
	"github.com/nvandessel/eventradar/internal/tokens"
	"github.com/nvandessel/eventradar/internal/vecmath"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("encoder unavailable")

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	Host              string        `koanf:"host" yaml:"host" validate:"required,url"`
	Model             string        `koanf:"model" yaml:"model" validate:"required"`
	BatchSize         int           `koanf:"batch_size" yaml:"batch_size" validate:"gt=0"`
	MaxInputTokens    int           `koanf:"max_input_tokens" yaml:"max_input_tokens" validate:"gte=0"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" yaml:"burst" validate:"gte=0"`
	FailureThreshold  uint32        `koanf:"failure_threshold" yaml:"failure_threshold" validate:"gt=0"`
	OpenTimeout       time.Duration `koanf:"open_timeout" yaml:"open_timeout" validate:"gt=0"`

	// Dim is the embedding length the model produces; set from Config.Dim.
	Dim int `koanf:"-" yaml:"-"`
}

// DefaultOllamaConfig targets a local Ollama serving all-minilm (384 dims).
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:              "http://localhost:11434",
		Model:             "all-minilm",
		BatchSize:         32,
		MaxInputTokens:    256,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 20,
		Burst:             4,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
		Dim:               384,
	}
}

// OllamaEncoder calls Ollama's /api/embed endpoint. Requests are batched,
// rate limited, and guarded by a circuit breaker so that a down model server
// fails fast instead of stalling every caller for the full timeout.
type OllamaEncoder struct {
	cfg        OllamaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[][]float32]
	log        zerolog.Logger
}

// NewOllama creates an Ollama client. No request is made until Encode.
func NewOllama(cfg OllamaConfig, log zerolog.Logger) *OllamaEncoder {
	def := DefaultOllamaConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	e := &OllamaEncoder{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        log.With().Str("component", "encoder").Str("backend", string(BackendOllama)).Logger(),
	}
	e.breaker = gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:    "ollama-embed",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// A caller giving up is not a server failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return e
}

// Dim implements Encoder.
func (e *OllamaEncoder) Dim() int { return e.cfg.Dim }

// Name implements Encoder.
func (e *OllamaEncoder) Name() string { return string(BackendOllama) }

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode implements Encoder.
func (e *OllamaEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		batch, err := e.encodeBatch(ctx, texts[start:end])
		metrics.EncoderRequestsTotal.WithLabelValues(e.Name(), metrics.Outcome(err)).Inc()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OllamaEncoder) encodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, t := range texts {
		cut, truncated := tokens.Truncate(t, e.cfg.MaxInputTokens)
		if truncated {
			e.log.Debug().Int("estimated_tokens", tokens.EstimateTokens(t)).Int("max_tokens", e.cfg.MaxInputTokens).Msg("truncated encoder input")
		}
		input[i] = cut
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for encoder rate limit: %w", err)
	}

	vecs, err := e.breaker.Execute(func() ([][]float32, error) {
		return e.post(ctx, input)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	if err := checkOutput(e.Name(), texts, vecs, e.cfg.Dim); err != nil {
		return nil, err
	}
	for i, v := range vecs {
		vecs[i] = vecmath.Normalize(v)
	}
	return vecs, nil
}

func (e *OllamaEncoder) post(ctx context.Context, input []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: input, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned empty embeddings")
	}
	return result.Embeddings, nil
}

// IsHealthy checks if Ollama is reachable.
func (e *OllamaEncoder) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

package encoder

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/nvandessel/eventradar/internal/metrics"
	"github.com/nvandessel/eventradar/internal/vecmath"
)

// HashingEncoder is a deterministic bag-of-words encoder: each lower-cased
// token and token bigram is hashed into one of Dim buckets with a hash-derived
// sign, and the result is L2-normalized. Texts sharing words land close
// together, which is enough for offline use and tests without a model server.
type HashingEncoder struct {
	dim int
}

// NewHashing returns a HashingEncoder producing dim-length vectors.
func NewHashing(dim int) *HashingEncoder {
	return &HashingEncoder{dim: dim}
}

// Dim implements Encoder.
func (h *HashingEncoder) Dim() int { return h.dim }

// Name implements Encoder.
func (h *HashingEncoder) Name() string { return string(BackendHashing) }

// IsHealthy implements HealthChecker; the hashing encoder has no backend.
func (h *HashingEncoder) IsHealthy(context.Context) bool { return true }

// Encode implements Encoder.
func (h *HashingEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		metrics.EncoderRequestsTotal.WithLabelValues(h.Name(), "error").Inc()
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.encode(text)
	}
	metrics.EncoderRequestsTotal.WithLabelValues(h.Name(), "ok").Inc()
	return out, nil
}

func (h *HashingEncoder) encode(text string) []float32 {
	v := make([]float32, h.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	return vecmath.Normalize(v)
}

func (h *HashingEncoder) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	bucket := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}

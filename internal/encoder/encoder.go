// Package encoder turns text into pretrained sentence embeddings. The model
// itself lives outside this process; Encoder is the boundary.
package encoder

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Encoder maps texts to fixed-length embeddings, one per input, in order.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Name() string
}

// HealthChecker is implemented by encoders that can check their backend.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Backend names an Encoder implementation.
type Backend string

const (
	BackendOllama  Backend = "ollama"
	BackendHashing Backend = "hashing"
)

// Config selects and configures an Encoder.
type Config struct {
	Backend Backend      `koanf:"backend" yaml:"backend" validate:"oneof=ollama hashing"`
	Dim     int          `koanf:"dim" yaml:"dim" validate:"gt=0"`
	Ollama  OllamaConfig `koanf:"ollama" yaml:"ollama"`
}

// New returns the encoder cfg describes.
func New(cfg Config, log zerolog.Logger) (Encoder, error) {
	switch cfg.Backend {
	case BackendHashing:
		return NewHashing(cfg.Dim), nil
	case BackendOllama, "":
		oc := cfg.Ollama
		oc.Dim = cfg.Dim
		return NewOllama(oc, log), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", cfg.Backend)
	}
}

// checkOutput verifies that an encoder returned one vector of dim per text.
func checkOutput(name string, texts []string, out [][]float32, dim int) error {
	if len(out) != len(texts) {
		return fmt.Errorf("%s encoder returned %d embeddings for %d texts", name, len(out), len(texts))
	}
	for i, v := range out {
		if len(v) != dim {
			return fmt.Errorf("%s encoder returned %d dimensions for text %d, want %d", name, len(v), i, dim)
		}
	}
	return nil
}

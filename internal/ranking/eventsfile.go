package ranking

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ReadEventsFile reads a list of events for Import. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON. Unknown fields are
// ignored so exports from other systems import as-is:
//
//	[{"event_id": "...", "title": "...", "description": "...", "tags": ["..."]}]
func ReadEventsFile(path string) ([]EventInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading events file: %w", err)
	}

	var events []EventInput
	if isYAML(path) {
		err = yaml.Unmarshal(data, &events)
	} else {
		err = json.Unmarshal(data, &events)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing events file %s: %w", path, err)
	}
	return events, nil
}

// WriteEventsFile writes events in the format ReadEventsFile reads.
func WriteEventsFile(path string, events []EventInput) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(events)
	} else {
		data, err = json.MarshalIndent(events, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing events file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

package seed

import (
	"fmt"

	"github.com/nvandessel/eventradar/internal/ranking"
)

// Export writes the sample catalog as an import file (JSON, or YAML for a
// .yaml/.yml path) that `eventradar import` accepts.
func Export(path string) error {
	if err := ranking.WriteEventsFile(path, sampleEvents()); err != nil {
		return fmt.Errorf("exporting samples: %w", err)
	}
	return nil
}

package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDataDir returns the per-user data directory used when the
// configuration names none.
// On Unix: ~/.eventradar
// On Windows: %USERPROFILE%\.eventradar
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".eventradar"), nil
}

// EnsureDataDir creates dir if it doesn't exist and seeds its .gitignore.
// Returns nil if the directory already exists or was successfully created.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return EnsureGitignore(dir)
}

// dataGitignore is the default .gitignore content for data directories.
const dataGitignore = `# Index snapshots (rebuilt from the event source of truth)
snapshots/
CURRENT

# SQLite backend
index.db
index.db-shm
index.db-wal

# Projection checkpoints and metrics
*.safetensors
*.prom
`

// EnsureGitignore creates a .gitignore in dir if one does not already
// exist. This prevents accidentally committing index snapshots and database
// files to version control.
func EnsureGitignore(dir string) error {
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(dataGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}

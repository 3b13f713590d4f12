//go:build windows

package store

// syncDir is a no-op on Windows, where directory handles cannot be fsynced
// and MoveFileEx already flushes the rename.
func syncDir(string) error { return nil }

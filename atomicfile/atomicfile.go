// Package atomicfile writes system configuration files through a temp file
// plus rename so a concurrent reader (including the OS mount subsystem) never
// observes a half-written file.
package atomicfile

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
)

// WriteFile writes data to path atomically. The temp file is created in the
// same directory as the target so the final rename stays a single-filesystem,
// atomic operation. The temp file is removed on any failure.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), ulid.MustNew(ulid.Now(), rand.Reader)))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidFilename indicates a filename that has no usable base name.
var ErrInvalidFilename = errors.New("transfer: invalid filename")

// StoragePath returns where a client's file is kept under dir. The filename
// is used as is and must be a plain name: a path separator or a "." / ".."
// name is rejected, so every name maps to its own file inside the client's
// directory.
func StoragePath(dir string, clientID uuid.UUID, filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	return filepath.Join(dir, clientID.String(), filename), nil
}

// Commit writes data to the client's storage path atomically: a temporary
// file in the same directory is synced and then renamed into place.
func Commit(dir string, clientID uuid.UUID, filename string, data []byte) (string, error) {
	finalPath, err := StoragePath(dir, clientID, filename)
	if err != nil {
		return "", err
	}
	clientDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(clientDir, 0o700); err != nil {
		return "", fmt.Errorf("create client storage dir: %w", err)
	}

	tmp, err := os.CreateTemp(clientDir, "."+filepath.Base(finalPath)+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		cleanup()
		return "", fmt.Errorf("finalize file: %w", err)
	}
	return finalPath, nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func Remove(storedPath string) error {
	if storedPath == "" {
		return nil
	}
	if err := os.Remove(storedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stored file: %w", err)
	}
	return nil
}

// CleanStaleTemporaries removes temporary files left in client directories
// under dir by a commit that never finished, and returns how many it removed.
func CleanStaleTemporaries(dir string) (int, error) {
	clientDirs, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read storage dir: %w", err)
	}

	removed := 0
	for _, clientDir := range clientDirs {
		if !clientDir.IsDir() {
			continue
		}
		clientPath := filepath.Join(dir, clientDir.Name())
		entries, err := os.ReadDir(clientPath)
		if err != nil {
			return removed, fmt.Errorf("read client storage dir: %w", err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".part") {
				continue
			}
			if err := os.Remove(filepath.Join(clientPath, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, fmt.Errorf("remove stale temporary: %w", err)
			}
			removed++
		}
	}
	return removed, nil
}

func validateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" || filename == "." || filename == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, filename)
	}
	return nil
}

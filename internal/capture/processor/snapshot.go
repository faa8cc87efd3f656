package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const snapshotPrefix = "screen_record"

// SnapshotDir stores every compressed frame as a JPEG file named
// screen_record<unix millis>.jpg.
type SnapshotDir struct {
	Path string
	now  func() time.Time
}

// NewSnapshotDir returns a sink writing into path.
func NewSnapshotDir(path string) *SnapshotDir {
	return &SnapshotDir{Path: path, now: time.Now}
}

// Clear removes earlier snapshots and makes sure the directory exists.
func (d *SnapshotDir) Clear() error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return fmt.Errorf("failed to list snapshot dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(d.Path, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Save writes one JPEG and returns its path.
func (d *SnapshotDir) Save(data []byte) (string, error) {
	name := fmt.Sprintf("%s%d.jpg", snapshotPrefix, d.now().UnixMilli())
	path := filepath.Join(d.Path, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

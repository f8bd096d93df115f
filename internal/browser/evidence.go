package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/storage"
)

// EvidenceWriter stores screenshots of non-passing pages under
// {Dir}/{YYYY-MM-DD}/{STATUS}_{name}.png.
type EvidenceWriter struct {
	Dir string
	now func() time.Time
}

// NewEvidenceWriter returns a writer rooted at dir.
func NewEvidenceWriter(dir string) *EvidenceWriter {
	return &EvidenceWriter{Dir: dir, now: time.Now}
}

// Save captures the current page of d and returns the written path.
func (e *EvidenceWriter) Save(ctx context.Context, d Driver, name string, status models.Status) (string, error) {
	shot, err := d.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("browser: capturing screenshot: %w", err)
	}

	path := storage.EvidencePath(e.Dir, e.now(), string(status), name)
	if err := storage.EnsureParent(path); err != nil {
		return "", fmt.Errorf("browser: creating evidence dir: %w", err)
	}
	if err := os.WriteFile(path, shot, 0644); err != nil {
		return "", fmt.Errorf("browser: writing screenshot: %w", err)
	}
	return path, nil
}

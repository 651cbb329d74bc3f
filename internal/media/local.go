// ABOUTME: Filesystem-backed media store for local runs and tests
// ABOUTME: Writes objects under a root directory and returns file:// locators

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LocalStore writes media files beneath Dir.
type LocalStore struct {
	dir string
	now func() time.Time
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating media dir: %w", err)
	}
	return &LocalStore{dir: abs, now: time.Now}, nil
}

// Save writes data and returns file://<path>.
func (l *LocalStore) Save(ctx context.Context, data []byte, kind, conversationID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(l.dir, filepath.FromSlash(Key(conversationID, kind, l.now())))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("creating media dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("writing media: %w", err)
	}
	return "file://" + filepath.ToSlash(path), nil
}

var _ Store = (*LocalStore)(nil)

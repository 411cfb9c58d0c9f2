package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

// Stager keeps fetched documents on local disk for the duration of one
// pipeline run. It is the single-node stand-in for the S3 stager.
type Stager struct {
	basePath string
}

func New(basePath string) (*Stager, error) {
	if basePath == "" {
		basePath = "./data/staging"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{basePath: basePath}, nil
}

func (s *Stager) Stage(_ context.Context, key string, file *domain.RawFile) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create staging subdir: %w", err)
	}
	if err := os.WriteFile(path, file.Bytes, 0o644); err != nil {
		return fmt.Errorf("write staged file: %w", err)
	}
	return nil
}

func (s *Stager) Discard(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged file: %w", err)
	}
	return nil
}

// resolve rejects keys that would escape the staging root.
func (s *Stager) resolve(key string) (string, error) {
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	base, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", fmt.Errorf("resolve staging root: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve staging key: %w", err)
	}
	if abs != base && !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("staging key %q escapes the staging root", key)
	}
	return abs, nil
}

package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSink writes blobs into a flat directory on the local filesystem.
// References are the slash-separated path under that directory's parent,
// e.g. "uploads/images-1712345678901-photo.png".
type LocalSink struct {
	root string
}

func NewLocalSink(root string) (*LocalSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob/local: mkdir %s: %w", root, err)
	}
	return &LocalSink{root: root}, nil
}

// Root returns the directory blobs are written to.
func (s *LocalSink) Root() string { return s.root }

func (s *LocalSink) Save(ctx context.Context, field, filename string, r io.Reader) (string, error) {
	name := objectName(field, filename)
	full := filepath.Join(s.root, name)

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("blob/local: create %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(full)
		return "", fmt.Errorf("blob/local: write %s: %w", name, err)
	}

	return filepath.ToSlash(filepath.Join(s.root, name)), nil
}

func (s *LocalSink) Remove(ctx context.Context, ref string) error {
	err := os.Remove(filepath.FromSlash(ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob/local: remove %s: %w", ref, err)
	}
	return nil
}

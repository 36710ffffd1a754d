package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var _ Store = (*FileStore)(nil)

// FileStore writes objects below a local directory. Development only.
type FileStore struct {
	root string
}

// NewFileStore creates root if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Put writes to a temporary file and renames it into place, so readers
// never see a partial object.
func (s *FileStore) Put(ctx context.Context, key, _ string, r io.Reader) (int64, error) {
	key, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("moving object into place: %w", err)
	}
	return n, nil
}

// Ping checks that the root is still a directory.
func (s *FileStore) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

// Package blob stores uploaded documents.
package blob

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for keys that are empty, absolute or escape
// the store root.
var ErrInvalidKey = errors.New("blob: invalid object key")

// Store is an object store.
type Store interface {
	// Put writes r under key and returns the number of bytes stored.
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Ping(ctx context.Context) error
}

// DocumentKey returns a fresh key for a document uploaded by subjectID,
// e.g. "documents/<subject>/<uuid>.pdf".
func DocumentKey(subjectID, extension string) string {
	return path.Join("documents", subjectID, uuid.NewString()+extension)
}

func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

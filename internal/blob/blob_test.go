package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestDocumentKey(t *testing.T) {
	a := DocumentKey("sub-1", ".pdf")
	b := DocumentKey("sub-1", ".pdf")
	assert.True(t, strings.HasPrefix(a, "documents/sub-1/"))
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NotEqual(t, a, b)
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/etc/passwd", "../escape", "a/../../escape", "a\\b", ".."} {
		_, err := cleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
	got, err := cleanKey("documents/sub-1/./x.pdf")
	require.NoError(t, err)
	assert.Equal(t, "documents/sub-1/x.pdf", got)
}

func TestFileStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uploads")
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))

	n, err := s.Put(context.Background(), "documents/sub-1/cv.pdf", "application/pdf", strings.NewReader("%PDF-1.7 test"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	data, err := os.ReadFile(filepath.Join(root, "documents", "sub-1", "cv.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 test", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "documents", "sub-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	_, err = s.Put(context.Background(), "../outside", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestFileStoreCanceledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "documents/x.pdf", "application/pdf", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStorePingMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "gone")
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, os.Remove(root))
	assert.Error(t, s.Ping(context.Background()))
}

func TestGCSStore(t *testing.T) {
	var (
		mu       sync.Mutex
		uploaded string
		query    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/b/crew-docs/o"):
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded = string(body)
			query = r.URL.RawQuery
			mu.Unlock()
			_, _ = io.WriteString(w, `{"name":"uploads/documents/sub-1/cv.pdf","bucket":"crew-docs","size":"13"}`)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/b/crew-docs"):
			_, _ = io.WriteString(w, `{"name":"crew-docs"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s, err := NewGCSStore(ctx, "crew-docs", "uploads",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	n, err := s.Put(ctx, "documents/sub-1/cv.pdf", "application/pdf", strings.NewReader("%PDF-1.7 test"))
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	mu.Lock()
	assert.Contains(t, uploaded, "%PDF-1.7 test")
	assert.Contains(t, uploaded, "uploads/documents/sub-1/cv.pdf")
	assert.Contains(t, query, "uploadType=multipart")
	mu.Unlock()

	assert.NoError(t, s.Ping(ctx))

	missing, err := NewGCSStore(ctx, "other-bucket", "",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	assert.Error(t, missing.Ping(ctx))
}

func TestNewGCSStoreRequiresBucket(t *testing.T) {
	_, err := NewGCSStore(context.Background(), "", "")
	assert.ErrorContains(t, err, "bucket is required")
}

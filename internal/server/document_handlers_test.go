package server

import (
	"bytes"
	"context"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjordcrew/crewfront/internal/blob"
	"github.com/fjordcrew/crewfront/internal/forms"
	"github.com/fjordcrew/crewfront/internal/guard"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/kv"
	"github.com/fjordcrew/crewfront/internal/notify"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type documentTest struct {
	*fixture
	dir      string
	notifier *recordingNotifier
	dispatch *notify.Dispatcher
	handler  http.Handler
}

func newDocumentTest(t *testing.T, f *fixture, maxBytes int64) *documentTest {
	t.Helper()
	dir := t.TempDir()
	files, err := blob.NewFileStore(dir)
	require.NoError(t, err)

	n := &recordingNotifier{}
	d := notify.NewDispatcher(n, time.Second, f.metrics)
	h := NewDocumentHandlers(f.guard, f.rules[ScopeUpload], files, f.storage, d,
		"post@fjordcrew.no", []string{"bemanning@fjordcrew.no"}, maxBytes, f.metrics)

	return &documentTest{
		fixture:  f,
		dir:      dir,
		notifier: n,
		dispatch: d,
		handler:  NewSessionMiddleware(f.sessions)(http.HandlerFunc(h.UploadHandler)),
	}
}

type uploadRequest struct {
	kind     string
	website  string
	fileName string
	content  []byte
	noFile   bool
	noToken  bool
	noLogin  bool
}

func (dt *documentTest) upload(t *testing.T, u uploadRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("kind", u.kind))
	if u.website != "" {
		require.NoError(t, mw.WriteField("website", u.website))
	}
	if !u.noFile {
		part, err := mw.CreateFormFile("file", u.fileName)
		require.NoError(t, err)
		_, err = part.Write(u.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if !u.noToken {
		req.Header.Set(guard.CSRFHeader, dt.csrfToken(t))
	}
	if !u.noLogin {
		req.AddCookie(dt.sessionCookie(t))
	}
	rec := httptest.NewRecorder()
	dt.handler.ServeHTTP(rec, req)
	return rec
}

// storedFiles lists the objects written below the upload directory.
func (dt *documentTest) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dt.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(dt.dir, p)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestUploadHandler(t *testing.T) {
	dt := newDocumentTest(t, newFixture(t), 1<<20)

	rec := dt.upload(t, uploadRequest{kind: "CV", fileName: `C:\Users\kari\CV 2026.pdf`, content: pdfBytes})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, forms.MsgDocumentReceived, decodeEnvelope(t, rec).Message)
	id := createdID(t, rec)

	claims := testClaims()
	export, err := dt.storage.ExportUserData(context.Background(), "", claims.SubjectID)
	require.NoError(t, err)
	require.Len(t, export.Documents, 1)
	doc := export.Documents[0]
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, forms.DocumentCV, doc.Kind)
	assert.Equal(t, "CV 2026.pdf", doc.FileName)
	assert.Equal(t, "application/pdf", doc.ContentType)
	assert.Equal(t, int64(len(pdfBytes)), doc.Size)
	assert.True(t, strings.HasSuffix(doc.ObjectKey, ".pdf"))

	files := dt.storedFiles(t)
	require.Equal(t, []string{doc.ObjectKey}, files)
	stored, err := os.ReadFile(filepath.Join(dt.dir, filepath.FromSlash(doc.ObjectKey)))
	require.NoError(t, err)
	assert.Equal(t, pdfBytes, stored)

	require.NoError(t, dt.dispatch.Wait(context.Background()))
	sent := dt.notifier.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, KindDocument, sent[0].Kind)
	assert.Equal(t, "Nytt dokument (cv) fra Kari Nordmann", sent[0].Subject)
}

func TestUploadHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		maxBytes   int64
		req        uploadRequest
		wantStatus int
		wantError  string
	}{
		{
			name:       "not logged in",
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: pdfBytes, noLogin: true},
			wantStatus: http.StatusUnauthorized,
			wantError:  jsonwriter.MsgUnauthorized,
		},
		{
			name:       "missing token",
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: pdfBytes, noToken: true},
			wantStatus: http.StatusForbidden,
			wantError:  jsonwriter.MsgInvalidCSRF,
		},
		{
			name:       "unknown kind",
			req:        uploadRequest{kind: "selfie", fileName: "cv.pdf", content: pdfBytes},
			wantStatus: http.StatusBadRequest,
			wantError:  "Dokumenttype har en ugyldig verdi.",
		},
		{
			name:       "no file",
			req:        uploadRequest{kind: "cv", noFile: true},
			wantStatus: http.StatusBadRequest,
			wantError:  MsgFileMissing,
		},
		{
			name:       "empty file",
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: []byte{}},
			wantStatus: http.StatusBadRequest,
			wantError:  MsgFileMissing,
		},
		{
			name:       "text disguised as pdf",
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: []byte("just some plain text, not a document")},
			wantStatus: http.StatusUnsupportedMediaType,
			wantError:  MsgFileType,
		},
		{
			name:       "file over the limit",
			maxBytes:   1024,
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("0"), 2048)...)},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "Filen er for stor. Maksimal størrelse er 1 MB.",
		},
		{
			name:       "body over the limit",
			maxBytes:   1024,
			req:        uploadRequest{kind: "cv", fileName: "cv.pdf", content: bytes.Repeat([]byte("0"), 200<<10)},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantError:  "Filen er for stor. Maksimal størrelse er 1 MB.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxBytes := tt.maxBytes
			if maxBytes == 0 {
				maxBytes = 1 << 20
			}
			dt := newDocumentTest(t, newFixture(t), maxBytes)

			rec := dt.upload(t, tt.req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeEnvelope(t, rec).Error)
			assert.Empty(t, dt.storedFiles(t), "nothing may be stored")
		})
	}
}

func TestUploadHandler_Honeypot(t *testing.T) {
	dt := newDocumentTest(t, newFixture(t), 1<<20)

	rec := dt.upload(t, uploadRequest{kind: "cv", website: "spam", fileName: "cv.pdf", content: pdfBytes, noToken: true})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, createdID(t, rec))
	assert.Empty(t, dt.storedFiles(t))
}

func TestUploadHandler_FailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	dt := newDocumentTest(t, newFixtureWithStore(t, kv.NewRedisStore(rdb)), 1<<20)
	mr.Close()

	rec := dt.upload(t, uploadRequest{kind: "cv", fileName: "cv.pdf", content: pdfBytes})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, jsonwriter.MsgUnavailable, decodeEnvelope(t, rec).Error)
	assert.Empty(t, dt.storedFiles(t))
}

func TestCleanFileName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"cv.pdf", "cv.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\kari\sertifikat.png`, "sertifikat.png"},
		{"..", "dokument"},
		{"", "dokument"},
		{"  ", "dokument"},
		{"navn\x00med\nkontroll.pdf", "navnmedkontroll.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanFileName(tt.in), "input %q", tt.in)
	}

	long := strings.Repeat("æ", 200) + ".pdf"
	got := cleanFileName(long)
	assert.LessOrEqual(t, len(got), 255)
	assert.True(t, strings.HasPrefix(long, got))
}

package server

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fjordcrew/crewfront/internal/blob"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/notify"
	"github.com/fjordcrew/crewfront/internal/storage"
	"github.com/fjordcrew/crewfront/internal/testutil"
)

var errBackend = errors.New("backend unavailable")

func newMockFormTest(t *testing.T, store storage.Storage) *formTest {
	t.Helper()
	f := newFixture(t)
	n := &recordingNotifier{}
	d := notify.NewDispatcher(n, time.Second, f.metrics)
	h := NewFormHandlers(f.guard, f.csrf, f.rules, store, d, testConfig(), f.metrics).
		WithClock(func() time.Time { return testNow })
	return &formTest{fixture: f, notifier: n, dispatcher: d, handlers: h}
}

func TestContactHandler_StorageFailure(t *testing.T) {
	store := &testutil.MockStorage{}
	store.On("CreateContact", mock.Anything, mock.AnythingOfType("*storage.ContactMessage")).Return(errBackend)
	ft := newMockFormTest(t, store)

	rec := ft.post(t, ft.handlers.ContactHandler(), "/api/contact", validContact(), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, jsonwriter.MsgInternal, decodeEnvelope(t, rec).Error)
	assert.NotContains(t, rec.Body.String(), errBackend.Error())
	assert.Empty(t, ft.notifier.messages(), "no notification for unsaved messages")
	store.AssertExpectations(t)
}

func TestCampaignApplicationHandler_DuplicateCheckFailure(t *testing.T) {
	store := &testutil.MockStorage{}
	store.On("HasRecentApplication", mock.Anything, "ola@example.no", "nordsjo-2026", mock.Anything, testNow.Add(-DuplicateWindow)).
		Return(false, errBackend)
	ft := newMockFormTest(t, store)

	rec := ft.post(t, ft.applications(), "/api/campaigns/nordsjo-2026/applications", validApplication(), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, jsonwriter.MsgInternal, decodeEnvelope(t, rec).Error)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CreateApplication", mock.Anything, mock.Anything)
}

func newMockDocumentTest(t *testing.T, blobs blob.Store, store storage.Storage) *documentTest {
	t.Helper()
	f := newFixture(t)
	n := &recordingNotifier{}
	d := notify.NewDispatcher(n, time.Second, f.metrics)
	h := NewDocumentHandlers(f.guard, f.rules[ScopeUpload], blobs, store, d,
		"post@fjordcrew.no", []string{"bemanning@fjordcrew.no"}, 1<<20, f.metrics)
	return &documentTest{
		fixture:  f,
		dir:      t.TempDir(),
		notifier: n,
		dispatch: d,
		handler:  NewSessionMiddleware(f.sessions)(http.HandlerFunc(h.UploadHandler)),
	}
}

func TestUploadHandler_BlobFailure(t *testing.T) {
	blobs := &testutil.MockBlobStore{}
	blobs.On("Put", mock.Anything, mock.AnythingOfType("string"), "application/pdf").Return(errBackend)
	store := &testutil.MockStorage{}
	dt := newMockDocumentTest(t, blobs, store)

	rec := dt.upload(t, uploadRequest{kind: "cv", fileName: "cv.pdf", content: pdfBytes})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, jsonwriter.MsgInternal, decodeEnvelope(t, rec).Error)
	blobs.AssertExpectations(t)
	store.AssertNotCalled(t, "CreateDocument", mock.Anything, mock.Anything)
}

func TestUploadHandler_MetadataFailure(t *testing.T) {
	blobs := &testutil.MockBlobStore{}
	blobs.On("Put", mock.Anything, mock.AnythingOfType("string"), "application/pdf").Return(nil)
	store := &testutil.MockStorage{}
	store.On("CreateDocument", mock.Anything, mock.MatchedBy(func(d *storage.Document) bool {
		return d.Size == int64(len(pdfBytes)) && d.Kind == "cv"
	})).Return(errBackend)
	dt := newMockDocumentTest(t, blobs, store)

	rec := dt.upload(t, uploadRequest{kind: "cv", fileName: "cv.pdf", content: pdfBytes})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, jsonwriter.MsgInternal, decodeEnvelope(t, rec).Error)
	assert.Empty(t, dt.notifier.messages())
	blobs.AssertExpectations(t)
	store.AssertExpectations(t)
}

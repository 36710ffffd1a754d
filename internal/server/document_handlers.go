package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fjordcrew/crewfront/internal/blob"
	"github.com/fjordcrew/crewfront/internal/emailutil"
	"github.com/fjordcrew/crewfront/internal/forms"
	"github.com/fjordcrew/crewfront/internal/guard"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/notify"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/session"
	"github.com/fjordcrew/crewfront/internal/storage"
)

const (
	MsgFileMissing  = "Velg en fil å laste opp."
	MsgFileType     = "Filtypen støttes ikke. Last opp PDF, Word, JPEG eller PNG."
	MsgFileTooLarge = "Filen er for stor. Maksimal størrelse er %d MB."
)

// multipartOverhead is allowed on top of the file size limit for the
// other form fields and part headers.
const multipartOverhead = 64 << 10

// multipartMemory is kept in memory while parsing; larger files spill to
// temporary files.
const multipartMemory = 1 << 20

// AllowedDocumentTypes are the sniffed content types accepted for upload.
var AllowedDocumentTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/jpeg",
	"image/png",
}

// DocumentHandlers accepts document uploads from logged-in users.
type DocumentHandlers struct {
	guard      *guard.Guard
	rule       ratelimit.Rule
	blobs      blob.Store
	storage    storage.Storage
	dispatcher *notify.Dispatcher
	from       string
	notifyTo   []string
	maxBytes   int64
	metrics    *metrics.Metrics
}

// NewDocumentHandlers creates the upload handler. maxBytes caps the file.
func NewDocumentHandlers(
	g *guard.Guard,
	rule ratelimit.Rule,
	blobs blob.Store,
	store storage.Storage,
	dispatcher *notify.Dispatcher,
	from string,
	notifyTo []string,
	maxBytes int64,
	m *metrics.Metrics,
) *DocumentHandlers {
	return &DocumentHandlers{
		guard:      g,
		rule:       rule,
		blobs:      blobs,
		storage:    store,
		dispatcher: dispatcher,
		from:       from,
		notifyTo:   notifyTo,
		maxBytes:   maxBytes,
		metrics:    m,
	}
}

func (h *DocumentHandlers) endpoint() guard.Endpoint {
	return guard.Endpoint{
		Name:           ScopeUpload,
		Rule:           h.rule,
		SuccessMessage: forms.MsgDocumentReceived,
		Identity: func(r *http.Request) string {
			if claims, ok := session.FromContext(r.Context()); ok {
				return claims.SubjectID
			}
			return ratelimit.ClientIP(r)
		},
	}
}

// UploadHandler handles POST /api/documents. It runs behind the session
// middleware and applies the same guard steps as the JSON forms.
func (h *DocumentHandlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	ep := h.endpoint()
	claims, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, jsonwriter.MsgUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	parseErr := r.ParseMultipartForm(multipartMemory)
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	upload := &forms.Upload{}
	if parseErr == nil {
		upload.Website = r.PostFormValue("website")
		upload.Kind = r.PostFormValue("kind")
	}

	if parseErr == nil && !h.guard.Honeypot(w, r, ep, upload.Tripped()) {
		return
	}
	if !h.guard.CSRF(w, r, ep) {
		return
	}
	if !h.guard.RateLimit(w, r, ep) {
		return
	}
	if parseErr != nil {
		h.metrics.GuardOutcome(ep.Name, guard.OutcomeInvalid)
		var maxErr *http.MaxBytesError
		if errors.As(parseErr, &maxErr) {
			jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), nil)
			return
		}
		jsonwriter.WriteBadRequest(w, jsonwriter.MsgBadRequest)
		return
	}
	upload.Normalize()
	if !h.guard.Validate(w, ep, upload) {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.metrics.GuardOutcome(ep.Name, guard.OutcomeInvalid)
		jsonwriter.WriteBadRequest(w, MsgFileMissing)
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		h.metrics.GuardOutcome(ep.Name, guard.OutcomeInvalid)
		jsonwriter.WriteError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), nil)
		return
	}
	if header.Size == 0 {
		h.metrics.GuardOutcome(ep.Name, guard.OutcomeInvalid)
		jsonwriter.WriteBadRequest(w, MsgFileMissing)
		return
	}

	mtype, err := sniff(file)
	if err != nil {
		h.guard.Finish(w, ep, "", fmt.Errorf("sniffing upload: %w", err))
		return
	}
	if !mimetype.EqualsAny(mtype.String(), AllowedDocumentTypes...) {
		log.LogInfoWithFields("documents", "Rejected upload type", map[string]any{
			"type":    mtype.String(),
			"subject": claims.SubjectID,
		})
		h.metrics.GuardOutcome(ep.Name, guard.OutcomeInvalid)
		jsonwriter.WriteError(w, http.StatusUnsupportedMediaType, MsgFileType, nil)
		return
	}
	h.metrics.GuardOutcome(ep.Name, guard.OutcomePassed)

	ctx := r.Context()
	key := blob.DocumentKey(claims.SubjectID, mtype.Extension())
	size, err := h.blobs.Put(ctx, key, mtype.String(), file)
	if err != nil {
		h.guard.Finish(w, ep, "", fmt.Errorf("storing document bytes: %w", err))
		return
	}

	doc := &storage.Document{
		SubjectID:   claims.SubjectID,
		Email:       claims.Email,
		Kind:        upload.Kind,
		FileName:    cleanFileName(header.Filename),
		ContentType: mtype.String(),
		Size:        size,
		ObjectKey:   key,
	}
	if err := h.storage.CreateDocument(ctx, doc); err != nil {
		h.guard.Finish(w, ep, "", fmt.Errorf("storing document metadata: %w", err))
		return
	}
	h.metrics.Submission(KindDocument)

	if h.dispatcher != nil {
		h.dispatcher.Dispatch(notify.Message{
			Kind:    KindDocument,
			From:    h.from,
			To:      h.notifyTo,
			Subject: fmt.Sprintf("Nytt dokument (%s) fra %s", doc.Kind, claims.Name),
			Text: lines(
				"Navn", claims.Name,
				"E-post", claims.Email,
				"Type", doc.Kind,
				"Fil", doc.FileName,
				"Størrelse", fmt.Sprintf("%d byte", doc.Size),
				"Referanse", doc.ID,
			),
		})
	}

	log.LogInfoWithFields("documents", "Document uploaded", map[string]any{
		"id":      doc.ID,
		"subject": claims.SubjectID,
		"email":   emailutil.Mask(claims.Email),
		"type":    doc.ContentType,
		"size":    doc.Size,
	})
	h.guard.Finish(w, ep, doc.ID, nil)
}

func (h *DocumentHandlers) tooLargeMessage() string {
	return fmt.Sprintf(MsgFileTooLarge, (h.maxBytes+(1<<20)-1)>>20)
}

// sniff detects the content type from the file header and rewinds the
// file for storage.
func sniff(file multipart.File) (*mimetype.MIME, error) {
	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return mtype, nil
}

// cleanFileName keeps the base name of a client-supplied file name,
// capped to 255 bytes on a rune boundary.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base("/" + name))
	if name == "/" || name == "." || name == ".." {
		return "dokument"
	}
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" {
		return "dokument"
	}
	for len(name) > 255 {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

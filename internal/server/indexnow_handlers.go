package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjordcrew/crewfront/internal/indexnow"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
)

// AdminSecretHeader carries the shared secret for operator endpoints.
const AdminSecretHeader = "X-Admin-Secret"

// IndexNowTimeout bounds one submission.
const IndexNowTimeout = 10 * time.Second

type indexNowRequest struct {
	URLs []string `json:"urls"`
}

// IndexNowHandlers submits changed URLs and serves the key file.
type IndexNowHandlers struct {
	client *indexnow.Client
	secret string
}

// NewIndexNowHandlers creates the handlers. secret gates submissions.
func NewIndexNowHandlers(client *indexnow.Client, secret string) *IndexNowHandlers {
	return &IndexNowHandlers{client: client, secret: secret}
}

// KeyFileHandler serves GET /<key>.txt
func (h *IndexNowHandlers) KeyFileHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(h.client.Key()))
}

// SubmitHandler handles POST /api/indexnow
func (h *IndexNowHandlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	provided := r.Header.Get(AdminSecretHeader)
	if h.secret == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		jsonwriter.WriteForbidden(w, jsonwriter.MsgForbidden)
		return
	}

	var req indexNowRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, jsonwriter.MsgBadRequest)
		return
	}
	if err := h.client.Validate(req.URLs); err != nil {
		jsonwriter.WriteError(w, http.StatusBadRequest, jsonwriter.MsgBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), IndexNowTimeout)
	defer cancel()

	if err := h.client.Submit(ctx, req.URLs); err != nil {
		log.LogErrorWithFields("indexnow", "Submission failed", map[string]any{
			"count": len(req.URLs),
			"error": err,
		})
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		jsonwriter.WriteError(w, status, jsonwriter.MsgUnavailable, nil)
		return
	}
	jsonwriter.WriteOK(w, map[string]int{"submitted": len(req.URLs)})
}

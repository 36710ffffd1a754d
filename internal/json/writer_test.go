package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	WriteCreated(w, map[string]string{"id": "abc"}, "Takk!")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Takk!", body["message"])
	assert.Equal(t, map[string]any{"id": "abc"}, body["data"])
}

func TestWriteOKOmitsEmptyMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteOK(w, map[string]string{"token": "t"})

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	_, hasMessage := body["message"]
	assert.False(t, hasMessage)
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{"unauthorized default", func(w http.ResponseWriter) { WriteUnauthorized(w, "") }, http.StatusUnauthorized, MsgUnauthorized},
		{"bad request custom", func(w http.ResponseWriter) { WriteBadRequest(w, "Navn er påkrevd.") }, http.StatusBadRequest, "Navn er påkrevd."},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, MsgInvalidCSRF) }, http.StatusForbidden, MsgInvalidCSRF},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "") }, http.StatusNotFound, MsgNotFound},
		{"too many", WriteTooManyRequests, http.StatusTooManyRequests, MsgRateLimited},
		{"internal", WriteInternalServerError, http.StatusInternalServerError, MsgInternal},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "") }, http.StatusServiceUnavailable, MsgUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Nil(t, body.Details)
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, http.StatusBadRequest, "Ugyldig", map[string]string{"field": "email"})

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"field": "email"}, body["details"])
}

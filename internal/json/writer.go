package json

import (
	"encoding/json"
	"net/http"

	"github.com/fjordcrew/crewfront/internal/log"
)

// Localized messages shared by every endpoint. Clients never see internal
// error text.
const (
	MsgInternal      = "Noe gikk galt. Vennligst prøv igjen senere."
	MsgBadRequest    = "Ugyldig forespørsel."
	MsgInvalidCSRF   = "Ugyldig eller utløpt sikkerhetstoken. Last inn siden på nytt og prøv igjen."
	MsgRateLimited   = "For mange forespørsler. Vennligst prøv igjen senere."
	MsgUnavailable   = "Tjenesten er midlertidig utilgjengelig. Vennligst prøv igjen senere."
	MsgUnauthorized  = "Du må være innlogget for å gjøre dette."
	MsgForbidden     = "Ingen tilgang."
	MsgNotFound      = "Fant ikke ressursen."
	MsgTooLarge      = "Forespørselen er for stor."
	MsgMethodInvalid = "Metoden er ikke tillatt."
)

// SuccessResponse is the envelope for successful responses.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the envelope for failed responses.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a raw JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteSuccess wraps data and an optional message in the success envelope.
func WriteSuccess(w http.ResponseWriter, statusCode int, data any, message string) {
	_ = WriteResponse(w, statusCode, SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// WriteOK is WriteSuccess with 200.
func WriteOK(w http.ResponseWriter, data any) {
	WriteSuccess(w, http.StatusOK, data, "")
}

// WriteCreated is WriteSuccess with 201.
func WriteCreated(w http.ResponseWriter, data any, message string) {
	WriteSuccess(w, http.StatusCreated, data, message)
}

// WriteError writes the failure envelope. details is omitted when nil.
func WriteError(w http.ResponseWriter, statusCode int, message string, details any) {
	response := ErrorResponse{
		Success: false,
		Error:   message,
		Details: details,
	}

	if err := WriteResponse(w, statusCode, response); err != nil {
		// Headers are already sent at this point; nothing more to do.
		return
	}
}

// Common error responses
func WriteUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = MsgUnauthorized
	}
	WriteError(w, http.StatusUnauthorized, message, nil)
}

func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, MsgInternal, nil)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	if message == "" {
		message = MsgBadRequest
	}
	WriteError(w, http.StatusBadRequest, message, nil)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = MsgNotFound
	}
	WriteError(w, http.StatusNotFound, message, nil)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = MsgForbidden
	}
	WriteError(w, http.StatusForbidden, message, nil)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	if message == "" {
		message = MsgUnavailable
	}
	WriteError(w, http.StatusServiceUnavailable, message, nil)
}

func WriteTooManyRequests(w http.ResponseWriter) {
	WriteError(w, http.StatusTooManyRequests, MsgRateLimited, nil)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, MsgMethodInvalid, nil)
}

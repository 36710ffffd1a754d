package guard

import "net/http"

// RejectError is a client-visible refusal from a form handler.
type RejectError struct {
	Status  int
	Message string
}

func (e *RejectError) Error() string {
	return e.Message
}

// Reject returns a RejectError with the given status.
func Reject(status int, message string) error {
	return &RejectError{Status: status, Message: message}
}

// BadRequest is Reject with 400.
func BadRequest(message string) error {
	return Reject(http.StatusBadRequest, message)
}

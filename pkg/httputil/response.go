// Package httputil provides HTTP handler utilities: the error envelope all
// API responses share, JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode is the machine-readable error category. Clients branch on the
// code; the message is for display only.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "bad_request"
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeForbidden       ErrorCode = "forbidden"
	CodeNotFound        ErrorCode = "not_found"
	CodeConflict        ErrorCode = "conflict"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeInternal        ErrorCode = "internal"
)

// clientMessages are the localized texts shown to end users. Error bodies
// deliberately carry no diagnostic detail; the request ID in the response
// headers is the correlation handle for support.
var clientMessages = map[ErrorCode]string{
	CodeBadRequest:      "Zahtev nije ispravan.",
	CodeUnauthenticated: "Niste prijavljeni ili je sesija istekla.",
	CodeForbidden:       "Nemate dozvolu za ovu akciju.",
	CodeNotFound:        "Traženi resurs ne postoji.",
	CodeConflict:        "Nalog sa ovom email adresom već postoji.",
	CodeRateLimited:     "Previše zahteva. Pokušajte ponovo kasnije.",
	CodeInternal:        "Došlo je do greške. Pokušajte ponovo.",
}

var statusForCode = map[ErrorCode]int{
	CodeBadRequest:      http.StatusBadRequest,
	CodeUnauthenticated: http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeNotFound:        http.StatusNotFound,
	CodeConflict:        http.StatusConflict,
	CodeRateLimited:     http.StatusTooManyRequests,
	CodeInternal:        http.StatusInternalServerError,
}

// ErrorResponse is the envelope every non-2xx API response uses.
type ErrorResponse struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
	// RetryAfter is set only for rate_limited responses, in seconds.
	RetryAfter int64 `json:"retryAfter,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 OK with JSON data.
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 Created with JSON data.
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteErrorCode writes the envelope for a code with its standard status
// and localized message.
func WriteErrorCode(w http.ResponseWriter, code ErrorCode) {
	WriteJSON(w, statusForCode[code], ErrorResponse{
		Error:   code,
		Message: clientMessages[code],
	})
}

// WriteBadRequest writes a 400 with an optional field-level message. An
// empty message falls back to the generic localized text.
func WriteBadRequest(w http.ResponseWriter, message string) {
	if message == "" {
		message = clientMessages[CodeBadRequest]
	}
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   CodeBadRequest,
		Message: message,
	})
}

// WriteUnauthenticated writes the 401 envelope. The body never says which
// verification step failed.
func WriteUnauthenticated(w http.ResponseWriter) {
	WriteErrorCode(w, CodeUnauthenticated)
}

// WriteForbidden writes the 403 envelope.
func WriteForbidden(w http.ResponseWriter) {
	WriteErrorCode(w, CodeForbidden)
}

// WriteConflict writes the 409 envelope.
func WriteConflict(w http.ResponseWriter) {
	WriteErrorCode(w, CodeConflict)
}

// WriteRateLimited writes the 429 envelope plus the Retry-After header.
func WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int64(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      CodeRateLimited,
		Message:    clientMessages[CodeRateLimited],
		RetryAfter: seconds,
	})
}

// WriteInternal writes the 500 envelope. The underlying error goes to the
// log, never to the client.
func WriteInternal(w http.ResponseWriter) {
	WriteErrorCode(w, CodeInternal)
}

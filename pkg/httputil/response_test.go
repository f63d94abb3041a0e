package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteUnauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthenticated(rec)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeError(t, rec)
	assert.Equal(t, CodeUnauthenticated, body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRateLimited(rec, 42*time.Second)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	body := decodeError(t, rec)
	assert.Equal(t, CodeRateLimited, body.Error)
	assert.EqualValues(t, 42, body.RetryAfter)
}

func TestWriteRateLimited_SubSecondRoundsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteRateLimited(rec, 200*time.Millisecond)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

// Every code maps to its HTTP status and a non-empty localized message.
func TestWriteErrorCode_AllCodes(t *testing.T) {
	expected := map[ErrorCode]int{
		CodeBadRequest:      http.StatusBadRequest,
		CodeUnauthenticated: http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, status := range expected {
		rec := httptest.NewRecorder()
		WriteErrorCode(rec, code)
		assert.Equal(t, status, rec.Code, "code %s", code)

		body := decodeError(t, rec)
		assert.Equal(t, code, body.Error)
		assert.NotEmpty(t, body.Message, "code %s", code)
	}
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(rec, map[string]string{"status": "ok"}))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

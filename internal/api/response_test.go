package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/helpdeck/helpdeck/internal/pipeline"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]string{"hello": "world"})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success || env.Error != nil {
		t.Errorf("envelope = %+v", env)
	}
	if env.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeError(rec, http.StatusBadRequest, "INVALID_QUERY", "query cannot be empty")

	env := decodeEnvelope(t, rec)
	if env.Success {
		t.Error("success must be false")
	}
	if env.Error == nil || env.Error.Code != "INVALID_QUERY" {
		t.Errorf("error = %+v", env.Error)
	}
	if env.Data != nil {
		t.Error("data must be empty on errors")
	}
}

func TestWritePipelineError_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code   pipeline.Code
		status int
	}{
		{pipeline.CodeInvalidQuery, http.StatusBadRequest},
		{pipeline.CodeRateLimited, http.StatusTooManyRequests},
		{pipeline.CodeQuotaExceeded, http.StatusTooManyRequests},
		{pipeline.CodeBusinessNotFound, http.StatusNotFound},
		{pipeline.CodeBusinessSuspended, http.StatusNotFound},
		{pipeline.CodeProcessingTimeout, http.StatusInternalServerError},
		{pipeline.CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			writePipelineError(rec, &pipeline.Error{Code: tt.code, Message: "x"})
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			env := decodeEnvelope(t, rec)
			if env.Error == nil || env.Error.Code != string(tt.code) {
				t.Errorf("error = %+v", env.Error)
			}
		})
	}
}

func TestWritePipelineError_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writePipelineError(rec, &pipeline.Error{
		Code:       pipeline.CodeRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: 2500 * time.Millisecond,
	})
	if got := rec.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want rounded-up seconds \"3\"", got)
	}
}

func TestWriteEvent_SSEFraming(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if err := writeEvent(rec, rec, "chunk", map[string]string{"text": "hi"}); err != nil {
		t.Fatalf("writeEvent: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: chunk\ndata: ") {
		t.Errorf("frame = %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("frame must end with a blank line, got %q", body)
	}
	if rec.Flushed != true {
		t.Error("writer not flushed")
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/helpdeck/helpdeck/internal/llm"
	"github.com/helpdeck/helpdeck/internal/pipeline"
	"github.com/helpdeck/helpdeck/internal/respond"
	"github.com/helpdeck/helpdeck/internal/stream"
)

const maxRequestBody = 64 * 1024

// queryHandler serves the query endpoints.
type queryHandler struct {
	pipeline *pipeline.Pipeline
	streams  *stream.Manager
	logger   *slog.Logger
}

type queryRequest struct {
	Query        string `json:"query"`
	SessionToken string `json:"sessionToken,omitempty"`
	CustomerID   string `json:"customerId,omitempty"`
}

type queryResponse struct {
	Response responsePart      `json:"response"`
	Session  sessionPart       `json:"session"`
	Usage    pipeline.Usage    `json:"usage"`
	Metadata pipeline.Metadata `json:"metadata"`
}

type responsePart struct {
	Text        string           `json:"text"`
	Confidence  float64          `json:"confidence"`
	Intent      string           `json:"intent"`
	Sources     []respond.Source `json:"sources,omitempty"`
	Suggestions []string         `json:"suggestions,omitempty"`
}

type sessionPart struct {
	SessionID      string    `json:"sessionId"`
	Token          string    `json:"sessionToken"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ContextSummary string    `json:"contextSummary,omitempty"`
	TurnCount      int       `json:"turnCount"`
}

// query handles POST /api/v1/query.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	biz, ok := businessFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "business not resolved")
		return
	}

	var req queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	resp, err := h.pipeline.Process(r.Context(), pipeline.Request{
		BusinessID:   biz.ID,
		SessionToken: req.SessionToken,
		CustomerID:   req.CustomerID,
		Query:        req.Query,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQueryResponse(resp))
}

// streamQuery handles GET|POST /api/v1/query/stream as server-sent events.
// GET takes query parameters for EventSource clients; POST takes the same
// JSON body as the synchronous endpoint.
func (h *queryHandler) streamQuery(w http.ResponseWriter, r *http.Request) {
	biz, ok := businessFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "business not resolved")
		return
	}

	var req queryRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.SessionToken = q.Get("sessionToken")
		req.CustomerID = q.Get("customerId")
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	preq := pipeline.Request{
		BusinessID:   biz.ID,
		SessionToken: req.SessionToken,
		CustomerID:   req.CustomerID,
		Query:        req.Query,
	}

	// Client disconnects cancel r.Context(), which stops the generation.
	var final *pipeline.Response
	events := h.streams.Run(r.Context(), func(ctx context.Context, cb llm.StreamFunc) (*llm.Reply, error) {
		resp, err := h.pipeline.ProcessStream(ctx, preq, cb)
		if err != nil {
			return nil, err
		}
		final = resp
		return &llm.Reply{
			Text:       resp.Answer.Text,
			Model:      resp.Metadata.ModelUsed,
			TokensUsed: resp.Usage.TokensUsed,
		}, nil
	})

	for ev := range events {
		switch ev.Type {
		case stream.EventStart:
			_ = writeEvent(w, flusher, "start", map[string]string{"status": "processing"})
		case stream.EventChunk:
			_ = writeEvent(w, flusher, "chunk", map[string]string{"text": ev.Text})
		case stream.EventComplete:
			payload := any(map[string]string{"status": "done"})
			if final != nil {
				payload = toQueryResponse(final)
			}
			_ = writeEvent(w, flusher, "end", payload)
		case stream.EventError:
			code, message := "INTERNAL_ERROR", "query processing failed"
			var perr *pipeline.Error
			if errors.As(ev.Err, &perr) {
				code, message = string(perr.Code), perr.Message
			}
			_ = writeEvent(w, flusher, "error", apiError{Code: code, Message: message})
		}
	}
}

func toQueryResponse(resp *pipeline.Response) queryResponse {
	out := queryResponse{
		Response: responsePart{
			Text:        resp.Answer.Text,
			Confidence:  resp.Answer.Confidence,
			Intent:      string(resp.Intent.Intent),
			Sources:     resp.Answer.Sources,
			Suggestions: resp.Answer.Suggestions,
		},
		Usage:    resp.Usage,
		Metadata: resp.Metadata,
	}
	if resp.Session != nil {
		out.Session = sessionPart{
			SessionID:      resp.Session.ID.String(),
			Token:          resp.Session.Token,
			ExpiresAt:      resp.Session.ExpiresAt,
			ContextSummary: resp.Session.ContextSummary,
			TurnCount:      resp.Session.TurnCount,
		}
	}
	return out
}

// writePipelineError maps pipeline rejection codes to HTTP statuses.
// Generation failures never reach here: the pipeline absorbs them into the
// fallback answer and returns success.
func writePipelineError(w http.ResponseWriter, err error) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch perr.Code {
	case pipeline.CodeInvalidQuery:
		status = http.StatusBadRequest
	case pipeline.CodeRateLimited, pipeline.CodeQuotaExceeded:
		status = http.StatusTooManyRequests
	case pipeline.CodeBusinessNotFound, pipeline.CodeBusinessSuspended:
		status = http.StatusNotFound
	}
	if perr.RetryAfter > 0 {
		seconds := int(math.Ceil(perr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	writeError(w, status, string(perr.Code), perr.Message)
}

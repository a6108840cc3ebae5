package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/helpdeck/helpdeck/internal/session"
)

// sessionHandler exposes session lookup for widget clients that want to
// check a stored token before reusing it.
type sessionHandler struct {
	store  *session.Store
	logger *slog.Logger
}

// get handles GET /api/v1/sessions/{token}. An expired session answers
// 410 Gone so the client knows to start fresh rather than retry.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	biz, ok := businessFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "business not resolved")
		return
	}

	token := r.PathValue("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "session token is required")
		return
	}

	sess, err := h.store.Get(r.Context(), biz.ID, token)
	switch {
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "SESSION_EXPIRED", "session has expired")
		return
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		return
	case err != nil:
		h.logger.Error("loading session", "error", err, "business_id", biz.ID)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, sessionPart{
		SessionID:      sess.ID.String(),
		Token:          sess.Token,
		ExpiresAt:      sess.ExpiresAt,
		ContextSummary: sess.ContextSummary,
		TurnCount:      sess.TurnCount,
	})
}

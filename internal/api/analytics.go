package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/helpdeck/helpdeck/internal/analytics"
)

// analyticsHandler serves aggregates and raw log search for the
// authenticated tenant.
type analyticsHandler struct {
	store  *analytics.Logger
	logger *slog.Logger
}

// query handles GET /api/v1/analytics/query.
//
// Query parameters: from, to (RFC 3339), intent, status, limit, offset.
func (h *analyticsHandler) query(w http.ResponseWriter, r *http.Request) {
	biz, ok := businessFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "business not resolved")
		return
	}

	q := r.URL.Query()
	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "from must be RFC 3339")
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "to must be RFC 3339")
		return
	}

	agg, err := h.store.Aggregate(r.Context(), biz.ID, from, to)
	if err != nil {
		h.logger.Error("aggregating analytics", "error", err, "business_id", biz.ID)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "analytics unavailable")
		return
	}

	entries, err := h.store.Search(r.Context(), biz.ID, analytics.Filter{
		Intent: q.Get("intent"),
		Status: analytics.Status(q.Get("status")),
		From:   from,
		To:     to,
		Limit:  atoi(q.Get("limit")),
		Offset: atoi(q.Get("offset")),
	})
	if err != nil {
		h.logger.Error("searching query logs", "error", err, "business_id", biz.ID)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "analytics unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"aggregates": agg,
		"entries":    entries,
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

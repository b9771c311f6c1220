package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carecost/carecost/internal/store"
)

// AuditHandler serves the estimate audit trail for support lookups.
type AuditHandler struct {
	db *store.DB
}

func NewAuditHandler(db *store.DB) *AuditHandler {
	return &AuditHandler{db: db}
}

// List handles GET /api/v1/audit/{membershipId}?limit=N.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	membershipID := chi.URLParam(r, "membershipId")
	if membershipID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "membershipId is required"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be in 1..500"})
			return
		}
		limit = n
	}

	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit trail not available"})
		return
	}

	entries, err := h.db.RecentEntries(membershipID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "audit lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"membershipId": membershipID,
		"entries":      entries,
	})
}

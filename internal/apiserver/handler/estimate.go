package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/carecost/carecost/internal/estimator"
)

// EstimateHandler serves the estimate endpoint.
type EstimateHandler struct {
	orch    *estimator.Orchestrator
	timeout time.Duration
}

func NewEstimateHandler(orch *estimator.Orchestrator, timeout time.Duration) *EstimateHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EstimateHandler{orch: orch, timeout: timeout}
}

// Post handles POST /api/v1/estimate.
func (h *EstimateHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req estimator.EstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeException(w, http.StatusBadRequest, estimator.KindRequestInvalid, "malformed JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := h.orch.Estimate(ctx, &req)
	if err != nil {
		status, kind, msg := classify(err)
		writeException(w, status, kind, msg)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func classify(err error) (int, estimator.Kind, string) {
	var e *estimator.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, estimator.KindSourceUnavailable, "internal error"
	}
	switch e.Kind {
	case estimator.KindRequestInvalid:
		return http.StatusBadRequest, e.Kind, e.Message
	case estimator.KindMemberNotFound:
		return http.StatusNotFound, e.Kind, e.Message
	case estimator.KindCancelled:
		return http.StatusGatewayTimeout, e.Kind, e.Message
	case estimator.KindSourceUnavailable, estimator.KindAuthExpired:
		return http.StatusBadGateway, e.Kind, e.Message
	default:
		return http.StatusInternalServerError, e.Kind, e.Message
	}
}

func writeException(w http.ResponseWriter, status int, kind estimator.Kind, message string) {
	writeJSON(w, status, map[string]any{
		"exception": map[string]string{
			"code":    string(kind),
			"message": message,
		},
	})
}

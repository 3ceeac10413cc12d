package rest

import (
	"net/http"
	"time"
)

// healthResponse is the GET /health body.
type healthResponse struct {
	Status   string   `json:"status"`
	Time     string   `json:"time"`
	Warnings []string `json:"warnings,omitempty"`
}

// handleHealth reports service health. Threshold breaches degrade the
// status but keep the endpoint at 200 so load balancers do not evict a
// merely busy node.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	warnings := h.service.Maintenance().HealthWarnings()

	status := "healthy"
	if len(warnings) > 0 {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   status,
		Time:     time.Now().UTC().Format(time.RFC3339),
		Warnings: warnings,
	})
}

// handleMetrics returns the metrics snapshot plus router queue state.
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Router().Stats())
}

func (h *Handler) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	h.service.Metrics().Reset()
	h.logger.Info("metrics reset via api")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleMaintenanceRun triggers a full maintenance pass immediately.
func (h *Handler) handleMaintenanceRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Maintenance().ForceMaintenance(r.Context())
	if err != nil {
		h.logger.Error("forced maintenance failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "maintenance failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

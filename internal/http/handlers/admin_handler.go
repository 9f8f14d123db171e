// README: Admin triggers for the expiry sweep and expiring-soon alerts.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/modules/expiry"
)

type SweepService interface {
	Sweep(ctx context.Context, now time.Time) (expiry.Report, error)
	AlertExpiringSoon(ctx context.Context, now time.Time, threshold time.Duration) (expiry.AlertReport, error)
}

type AdminHandler struct {
	sweeper   SweepService
	threshold time.Duration
	now       func() time.Time
}

func NewAdminHandler(svc SweepService, alertThreshold time.Duration) *AdminHandler {
	return &AdminHandler{sweeper: svc, threshold: alertThreshold, now: time.Now}
}

// Sweep runs one expiry pass. Per-item failures are reported next to the counts.
func (h *AdminHandler) Sweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context(), h.now())
	if err != nil && report.Found == 0 {
		writeServiceError(c, err)
		return
	}
	resp := gin.H{"report": report}
	if err != nil {
		_ = c.Error(err)
		resp["error"] = err.Error()
	}
	status := http.StatusOK
	if report.Overlapped {
		status = http.StatusAccepted
	}
	writeJSON(c, status, resp)
}

func (h *AdminHandler) Alerts(c *gin.Context) {
	threshold := h.threshold
	if v := c.Query("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(c, http.StatusBadRequest, "invalid within")
			return
		}
		threshold = d
	}
	report, err := h.sweeper.AlertExpiringSoon(c.Request.Context(), h.now(), threshold)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"report": report})
}

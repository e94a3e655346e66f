package handler

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HealthHandler reports liveness plus the relayer identity clients need for
// building permits.
type HealthHandler struct {
	relayer   common.Address
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(relayer common.Address, mode string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{relayer: relayer, mode: mode, startedAt: startedAt}
}

// HealthCheck reports service status and the relayer address.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"relayer":        h.relayer.Hex(),
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

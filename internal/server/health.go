package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/frontieralpha/quant/internal/database"
)

// HealthHandler reports process and database health.
type HealthHandler struct {
	db      *database.DB
	log     zerolog.Logger
	started time.Time
}

func NewHealthHandler(db *database.DB, log zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:      db,
		log:     log.With().Str("component", "health").Logger(),
		started: time.Now(),
	}
}

// HandleHealth returns overall status plus CPU/memory usage and the
// price database integrity check. A failing database degrades status to
// "unhealthy" with a 503.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	dbStatus := "ok"
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Database health check failed")
		dbStatus = err.Error()
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var memPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	respondJSON(w, httpStatus, map[string]interface{}{
		"status":        status,
		"database":      dbStatus,
		"cpuPercent":    cpuPercent,
		"memoryPercent": memPercent,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	})
}

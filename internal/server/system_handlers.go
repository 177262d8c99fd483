package server

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/vantage/internal/database"
)

// SystemHandlers serves host and database health endpoints.
type SystemHandlers struct {
	dataDir     string
	databases   []*database.DB
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(dataDir string, databases []*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		dataDir:     dataDir,
		databases:   databases,
		startupTime: time.Now(),
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// RegisterRoutes registers the system routes.
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/system", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Get("/health", h.HandleHealth)
	})
}

// DatabaseStatus reports one database's health and on-disk size.
type DatabaseStatus struct {
	Name    string  `json:"name"`
	Healthy bool    `json:"healthy"`
	Error   string  `json:"error,omitempty"`
	SizeMB  float64 `json:"size_mb"`
}

// SystemStatusResponse is the /api/system/status payload.
type SystemStatusResponse struct {
	Status           string           `json:"status"`
	ServiceUptimeSec float64          `json:"service_uptime_sec"`
	HostUptimeSec    uint64           `json:"host_uptime_sec"`
	CPUPercent       float64          `json:"cpu_percent"`
	MemPercent       float64          `json:"mem_percent"`
	DiskPercent      float64          `json:"disk_percent"`
	DiskFreeMB       float64          `json:"disk_free_mb"`
	Databases        []DatabaseStatus `json:"databases"`
}

// HandleStatus returns host resource usage and database health.
// GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := SystemStatusResponse{
		Status:           "healthy",
		ServiceUptimeSec: time.Since(h.startupTime).Seconds(),
	}

	// 100ms sampling keeps the endpoint fast enough for dashboard polling.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read CPU usage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		response.MemPercent = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory usage")
	}

	if diskStat, err := disk.Usage(h.dataDir); err == nil {
		response.DiskPercent = diskStat.UsedPercent
		response.DiskFreeMB = float64(diskStat.Free) / 1024 / 1024
	} else {
		h.log.Warn().Err(err).Str("dir", h.dataDir).Msg("Failed to read disk usage")
	}

	if uptime, err := host.Uptime(); err == nil {
		response.HostUptimeSec = uptime
	}

	for _, db := range h.databases {
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.HealthCheck(r.Context()); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			response.Status = "degraded"
		}
		if info, err := os.Stat(db.Path()); err == nil {
			status.SizeMB = float64(info.Size()) / 1024 / 1024
		}
		response.Databases = append(response.Databases, status)
	}

	writeJSON(w, h.log, http.StatusOK, envelope(response))
}

// HandleHealth is a minimal liveness probe.
// GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	for _, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			writeJSON(w, h.log, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}

package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/goccy/go-json"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check response
type HealthCheck struct {
	Status         HealthStatus     `json:"status"`
	Version        string           `json:"version"`
	Uptime         int64            `json:"uptime"`
	UptimeHuman    string           `json:"uptime_human"`
	QueueSize      int              `json:"queue_size"`
	ActiveWorkers  int              `json:"active_workers"`
	MemoryUsageMB  uint64           `json:"memory_usage_mb"`
	DatabaseStatus string           `json:"database_status"`
	Checks         map[string]Check `json:"checks"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Pinger is satisfied by the history store
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsFunc reports the current queue size and live worker count
type StatsFunc func() (queueSize, activeWorkers int)

// HealthChecker performs health checks
type HealthChecker struct {
	version     string
	startTime   time.Time
	db          Pinger
	downloadDir string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, db Pinger, downloadDir string) *HealthChecker {
	return &HealthChecker{
		version:     version,
		startTime:   time.Now(),
		db:          db,
		downloadDir: downloadDir,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(queueSize, activeWorkers int) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	degrade := func(check Check) {
		switch check.Status {
		case "unhealthy":
			overallStatus = HealthStatusUnhealthy
		case "degraded":
			if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	dbCheck := h.checkDatabase()
	checks["database"] = dbCheck
	degrade(dbCheck)

	dirCheck := h.checkDownloadDir()
	checks["download_dir"] = dirCheck
	degrade(dirCheck)

	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	degrade(memCheck)

	queueCheck := h.checkQueue(queueSize)
	checks["queue"] = queueCheck
	degrade(queueCheck)

	uptime := time.Since(h.startTime)

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dbStatus := "connected"
	if dbCheck.Status != "healthy" {
		dbStatus = "disconnected"
	}

	return &HealthCheck{
		Status:         overallStatus,
		Version:        h.version,
		Uptime:         int64(uptime.Seconds()),
		UptimeHuman:    formatDuration(uptime),
		QueueSize:      queueSize,
		ActiveWorkers:  activeWorkers,
		MemoryUsageMB:  m.Alloc / 1024 / 1024,
		DatabaseStatus: dbStatus,
		Checks:         checks,
		Timestamp:      time.Now(),
	}
}

// Handler serves the health check as JSON. Unhealthy results get a 503.
func (h *HealthChecker) Handler(stats StatsFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var queueSize, activeWorkers int
		if stats != nil {
			queueSize, activeWorkers = stats()
		}

		result := h.Check(queueSize, activeWorkers)

		w.Header().Set("Content-Type", "application/json")
		if result.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})
}

// checkDatabase checks database connectivity
func (h *HealthChecker) checkDatabase() Check {
	if h.db == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database connection not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Database ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Database connection is healthy",
	}
}

// checkDownloadDir checks that new files can be created in the download directory
func (h *HealthChecker) checkDownloadDir() Check {
	if h.downloadDir == "" {
		return Check{Status: "degraded", Message: "Download directory not configured"}
	}

	if err := os.MkdirAll(h.downloadDir, 0755); err != nil {
		return Check{Status: "unhealthy", Message: "Download directory cannot be created: " + err.Error()}
	}

	tmp, err := os.CreateTemp(h.downloadDir, ".healthcheck-*")
	if err != nil {
		return Check{Status: "unhealthy", Message: "Download directory is not writable: " + err.Error()}
	}
	tmp.Close()
	os.Remove(tmp.Name())

	return Check{Status: "healthy", Message: "Download directory is writable"}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	const (
		warningThresholdMB  = 500
		criticalThresholdMB = 1000
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// checkQueue checks queue size
func (h *HealthChecker) checkQueue(queueSize int) Check {
	const warningThreshold = 10000

	if queueSize > warningThreshold {
		return Check{
			Status:  "degraded",
			Message: "Queue size is very large",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Queue size is normal",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

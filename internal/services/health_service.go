package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"polarcli/internal/config"
	"polarcli/internal/infrastructure"
	"polarcli/pkg/contracts"
)

// ClientCounter reports connected progress clients
type ClientCounter interface {
	ClientCount() int
}

// SessionCounter reports open sessions
type SessionCounter interface {
	Count() int
}

// HealthService provides health check functionality
type HealthService struct {
	paths     *config.Paths
	hub       ClientCounter
	sessions  SessionCounter
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	OpenSessions     int     `json:"open_sessions"`
	WebSocketClients int     `json:"websocket_clients"`
	Goroutines       int     `json:"goroutines"`
	GoVersion        string  `json:"go_version"`
	OS               string  `json:"os"`
	Arch             string  `json:"arch"`
}

// NewHealthService creates a health service. hub and sessions may be nil.
func NewHealthService(paths *config.Paths, hub ClientCounter, sessions SessionCounter, logger *slog.Logger) *HealthService {
	return &HealthService{
		paths:     paths,
		hub:       hub,
		sessions:  sessions,
		startTime: time.Now(),
		logger:    infrastructure.WithComponent(logger, "health_service"),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "HealthCheck: performing health check",
		slog.String("uptime", time.Since(hs.startTime).String()))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   contracts.Version,
	}
}

// ReadinessCheck reports whether the working directories are usable
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Services:  make(map[string]ServiceHealth),
	}

	if hs.paths != nil {
		status.Services["uploads"] = checkWritableDir(hs.paths.UploadsDir)
		status.Services["reports"] = checkWritableDir(hs.paths.ReportsDir)
	}
	status.Services["websocket"] = ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients", hs.clientCount()),
	}

	for name, service := range status.Services {
		if service.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "Readiness check failed",
				slog.String("service", name),
				slog.String("message", service.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   contracts.Version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() contracts.VersionInfo {
	return contracts.GetVersionInfo()
}

// SystemStats returns process statistics
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{
		UptimeSeconds:    time.Since(hs.startTime).Seconds(),
		WebSocketClients: hs.clientCount(),
		Goroutines:       runtime.NumGoroutine(),
		GoVersion:        runtime.Version(),
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
	}
	if hs.sessions != nil {
		stats.OpenSessions = hs.sessions.Count()
	}
	return stats
}

func (hs *HealthService) clientCount() int {
	if hs.hub == nil {
		return 0
	}
	return hs.hub.ClientCount()
}

// checkWritableDir reports whether dir exists and accepts new files
func checkWritableDir(dir string) ServiceHealth {
	info, err := os.Stat(dir)
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("directory unavailable: %v", err)}
	}
	if !info.IsDir() {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("%s is not a directory", dir)}
	}
	tmp, err := os.CreateTemp(dir, ".health")
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("cannot write to %s: %v", dir, err)}
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return ServiceHealth{Status: "ready"}
}

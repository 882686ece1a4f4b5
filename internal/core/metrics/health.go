package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration"`
	Components map[string]HealthStatus `json:"components"`
	SystemInfo map[string]interface{}  `json:"system_info"`
}

// HealthCheck probes one component.
type HealthCheck func(ctx context.Context) HealthStatus

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	timeout time.Duration
}

// NewHealthChecker creates a checker that bounds each check by timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
	}
}

// RegisterCheck registers a component check under name.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// GetOverallHealth returns the overall system health
func (h *HealthChecker) GetOverallHealth(ctx context.Context) HealthReport {
	start := time.Now()

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	components := make(map[string]HealthStatus, len(names))
	for _, name := range names {
		h.mu.RLock()
		check := h.checks[name]
		h.mu.RUnlock()

		checkStart := time.Now()
		status := HealthCheckWithTimeout(ctx, h.timeout, check)
		status.Duration = time.Since(checkStart)
		components[name] = status
	}

	overallStatus, message := calculateOverallStatus(components)

	return HealthReport{
		Status:     overallStatus,
		Message:    message,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Components: components,
		SystemInfo: gatherSystemInfo(),
	}
}

// calculateOverallStatus determines the overall health status based on component statuses
func calculateOverallStatus(components map[string]HealthStatus) (string, string) {
	healthyCount := 0
	degradedCount := 0
	unhealthyCount := 0
	unknownCount := 0
	totalCount := len(components)

	for _, status := range components {
		switch status.Status {
		case "healthy":
			healthyCount++
		case "degraded":
			degradedCount++
		case "unhealthy":
			unhealthyCount++
		default:
			unknownCount++
		}
	}

	if unhealthyCount > 0 {
		return "unhealthy", fmt.Sprintf("%d/%d components unhealthy", unhealthyCount, totalCount)
	}

	if degradedCount > 0 {
		return "degraded", fmt.Sprintf("%d/%d components degraded", degradedCount, totalCount)
	}

	if unknownCount > 0 {
		return "unknown", fmt.Sprintf("%d/%d components unknown", unknownCount, totalCount)
	}

	return "healthy", fmt.Sprintf("All %d components healthy", totalCount)
}

func gatherSystemInfo() map[string]interface{} {
	info := make(map[string]interface{})

	info["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	info["uptime"] = time.Since(startTime).String()

	return info
}

// startTime tracks when the application started
var startTime = time.Now()

// NewHealthStatus creates a new health status
func NewHealthStatus(status, message string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to a health status
func (h HealthStatus) WithDetail(key string, value interface{}) HealthStatus {
	if h.Details == nil {
		h.Details = make(map[string]interface{})
	}

	h.Details[key] = value
	return h
}

// IsHealthy returns true if the status is healthy
func (h HealthStatus) IsHealthy() bool {
	return h.Status == "healthy"
}

// HealthCheckWithTimeout performs a health check with timeout
func HealthCheckWithTimeout(ctx context.Context, timeout time.Duration, check HealthCheck) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan HealthStatus, 1)

	go func() {
		resultChan <- check(ctx)
	}()

	select {
	case result := <-resultChan:
		return result
	case <-ctx.Done():
		return NewHealthStatus("unhealthy", "Health check timed out").
			WithDetail("timeout", timeout.String())
	}
}

// Package health provides health reporting for the daemon's components
package health

import (
	"regexp"
	"time"

	"github.com/kuhl33d/ODC-Embedded-Linux/component"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|wss?|nats)://[^\s]+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// sanitizeErrorMessage strips connection URLs and credentials from error text
// before it is served on the unauthenticated /health endpoint.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	return credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
}

// FromComponentHealth converts a component.HealthStatus to a health.Status.
// A healthy component that has recorded errors is reported as degraded.
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	var status Status
	switch {
	case !ch.Healthy:
		status = NewUnhealthy(name, "Component unhealthy")
	case ch.LastError != "":
		status = NewDegraded(name, "Component recovering from errors")
	default:
		status = NewHealthy(name, "Component healthy")
	}

	if ch.LastError != "" {
		status.Message = sanitizeErrorMessage(ch.LastError)
	}

	status.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return status
}

// Package health aggregates component health for the /health endpoint
package health

import (
	"sort"
	"sync"
	"time"
)

// Overall status values
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's current health
type Probe func() (healthy bool, message string)

type component struct {
	critical bool
	probe    Probe
	check    Check
}

// Checker tracks health of system components. A failing critical component
// makes the system unhealthy; any other failure degrades it.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]*component
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]*component),
	}
}

// Register adds a component whose health is read from probe on every status request
func (c *Checker) Register(name string, critical bool, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = &component{critical: critical, probe: probe}
}

// SetComponent updates a component's health status directly
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	comp, ok := c.components[name]
	if !ok {
		comp = &component{}
		c.components[name] = comp
	}
	comp.check = Check{
		Healthy:   healthy,
		Critical:  comp.critical,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// refresh runs every registered probe
func (c *Checker) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for _, comp := range c.components {
		if comp.probe == nil {
			continue
		}
		healthy, message := comp.probe()
		comp.check = Check{
			Healthy:   healthy,
			Critical:  comp.critical,
			Message:   message,
			LastCheck: now,
		}
	}
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	c.refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusOK
	components := make(map[string]Check, len(c.components))
	for name, comp := range c.components {
		components[name] = comp.check
		if comp.check.Healthy {
			continue
		}
		if comp.critical {
			status = StatusUnhealthy
		} else if status == StatusOK {
			status = StatusDegraded
		}
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	return c.GetStatus().Status == StatusOK
}

// Components returns the registered component names in order
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping() error
}

// SessionCounter reports the number of open sessions
type SessionCounter interface {
	Len() int
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	sessions SessionCounter
	checks   map[string]Pinger
	started  time.Time
}

// NewHealthHandler creates a new HealthHandler. Nil checks are skipped.
func NewHealthHandler(sessions SessionCounter, checks map[string]Pinger) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &HealthHandler{sessions: sessions, checks: active, started: time.Now()}
}

// Health reports liveness
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready reports readiness. Any failing dependency makes the instance not ready.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := gin.H{"status": "ready", "dependencies": deps}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.Len()
	}
	c.JSON(status, body)
}

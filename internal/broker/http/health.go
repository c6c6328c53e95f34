package http

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"spectralnotify/internal/broker/apperr"
)

// DrainGate tracks whether the broker is draining for shutdown. Once Drain
// is called, drainMiddleware rejects every write with 503 UNAVAILABLE while
// reads and already-open WebSocket subscriptions keep working.
type DrainGate struct {
	draining atomic.Bool
}

// NewDrainGate returns a gate that is not draining.
func NewDrainGate() *DrainGate { return &DrainGate{} }

// Drain marks the gate as draining. Idempotent.
func (g *DrainGate) Drain() { g.draining.Store(true) }

// IsDraining reports the current state.
func (g *DrainGate) IsDraining() bool { return g.draining.Load() }

// drainMiddleware rejects write requests once gate is draining. A nil gate
// never drains.
func drainMiddleware(gate *DrainGate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gate != nil && gate.IsDraining() {
			writeMappedError(c, apperr.UnavailableError("broker is shutting down"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// handleHealthz reports liveness: the process is up and serving requests.
func (d Deps) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReadyz reports readiness: the task store answers a trivial read
// (the workflow store is not queried). A broker that can't reach its storage isn't ready to take
// traffic even though the process itself is alive.
func (d Deps) handleReadyz(c *gin.Context) {
	if _, err := d.TaskStore.List(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

// healthz reports liveness plus the current projection lag. A failing
// database probe degrades the status rather than hiding it.
func (s *Server) healthz(c *gin.Context) {
	lag, err := s.store.ProjectionLag(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"projection_lag_ms": lag.Milliseconds(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/eventstore"
)

// triggerProjections runs a synchronous projection pass and reports how many
// events it processed.
func (s *Server) triggerProjections(c *gin.Context) {
	processed, err := s.processor.TriggerManual(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Manual projection trigger failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// replayProjections rebuilds projections, optionally from a starting event.
func (s *Server) replayProjections(c *gin.Context) {
	fromEventID := c.Query("fromEventId")

	count, err := s.replay.Rebuild(c.Request.Context(), fromEventID)
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "replay start event not found"})
			return
		}
		log.Error().Err(err).Msg("Projection replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eventsReplayed": count})
}

// listDeadLetters returns recent dead-letter entries.
func (s *Server) listDeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	entries, err := s.store.FindDeadLetters(c.Request.Context(), limit)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deadletters": entries, "count": len(entries)})
}

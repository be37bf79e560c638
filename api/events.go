package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
)

// EventRequest is the inbound event envelope. Only the type and data are
// mandatory; the rest is defaulted server-side.
type EventRequest struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type" binding:"required"`
	Subject     string                 `json:"subject"`
	Sequence    int                    `json:"sequence"`
	Time        *time.Time             `json:"time"`
	ContentType string                 `json:"datacontenttype"`
	SchemaRef   string                 `json:"dataschema"`
	Data        map[string]interface{} `json:"data"`
}

func (r EventRequest) toDomain(defaultSource string) domain.Event {
	event := domain.Event{
		ID:          r.ID,
		Source:      r.Source,
		SpecVersion: r.SpecVersion,
		Type:        r.Type,
		Subject:     r.Subject,
		Sequence:    r.Sequence,
		ContentType: r.ContentType,
		SchemaRef:   r.SchemaRef,
		Data:        r.Data,
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Source == "" {
		event.Source = defaultSource
	}
	if r.Time != nil {
		event.Time = *r.Time
	}
	return event.WithDefaults()
}

// createEvent stores a submitted event. Resubmitting an event ID returns the
// originally stored event with status 200 instead of 201.
func (s *Server) createEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.validator != nil && req.SchemaRef != "" {
		if violations := s.validator(req.SchemaRef, req.Data); len(violations) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "event data failed schema validation",
				"violations": violations,
			})
			return
		}
	}

	event := req.toDomain(s.cfg.EventSource)

	stored, alreadyExisted, err := s.store.Store(c.Request.Context(), event)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	if alreadyExisted {
		c.JSON(http.StatusOK, stored)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// getEvent returns one event by ID.
func (s *Server) getEvent(c *gin.Context) {
	event, err := s.store.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

// listEvents returns events filtered by subject or type.
func (s *Server) listEvents(c *gin.Context) {
	subject := c.Query("subject")
	eventType := c.Query("type")

	var (
		events []domain.Event
		err    error
	)
	switch {
	case subject != "":
		events, err = s.store.FindBySubject(c.Request.Context(), subject)
	case eventType != "":
		events, err = s.store.FindByType(c.Request.Context(), eventType)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject or type query parameter is required"})
		return
	}
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// writeStoreError maps store errors onto HTTP statuses: concurrency and
// duplicate violations are conflicts, everything else is a 500.
func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "aggregate was modified concurrently"})
	case errors.Is(err, eventstore.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "event conflicts with an existing record"})
	default:
		log.Error().Err(err).Msg("Event store operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

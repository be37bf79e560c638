package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/models"
)

// AggregateStateResponse wraps a projected aggregate state.
type AggregateStateResponse struct {
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Version       int                    `json:"version"`
	LastEventID   string                 `json:"last_event_id"`
	State         map[string]interface{} `json:"state"`
}

func toStateResponse(state models.AggregateState) (AggregateStateResponse, error) {
	response := AggregateStateResponse{
		AggregateType: state.AggregateType,
		AggregateID:   state.AggregateID,
		Version:       state.Version,
		LastEventID:   state.LastEventID,
	}
	if len(state.State) > 0 {
		if err := json.Unmarshal(state.State, &response.State); err != nil {
			return response, errors.Wrapf(err, "failed to decode state for aggregate %s", state.AggregateID)
		}
	}
	return response, nil
}

// getAggregate returns one aggregate's projected state.
func (s *Server) getAggregate(c *gin.Context) {
	state, err := s.queries.GetState(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		if errors.Is(err, eventstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate not found"})
			return
		}
		s.writeStoreError(c, err)
		return
	}

	response, err := toStateResponse(*state)
	if err != nil {
		log.Error().Err(err).
			Str("aggregate_id", state.AggregateID).
			Msg("Failed to decode stored aggregate state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode aggregate state"})
		return
	}
	c.JSON(http.StatusOK, response)
}

// listAggregates returns projected states of one aggregate type.
func (s *Server) listAggregates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	states, err := s.queries.ListByType(c.Request.Context(), c.Param("type"), limit, offset)
	if err != nil {
		s.writeStoreError(c, err)
		return
	}

	responses := make([]AggregateStateResponse, 0, len(states))
	for _, state := range states {
		response, err := toStateResponse(state)
		if err != nil {
			log.Error().Err(err).
				Str("aggregate_id", state.AggregateID).
				Msg("Failed to decode stored aggregate state")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode aggregate state"})
			return
		}
		responses = append(responses, response)
	}
	c.JSON(http.StatusOK, gin.H{"aggregates": responses, "count": len(responses)})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/platform/services/eventcore/commandbus"
	"example.com/platform/services/eventcore/config"
	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/models"
	"example.com/platform/services/eventcore/projections"
	"example.com/platform/services/eventcore/query"
)

func newTestServer(t *testing.T) (*Server, *eventstore.MemoryEventStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		EventSource:          "/test",
		EventNamespace:       "app.events",
		ProjectionBatchSize:  50,
		ProjectionMaxRetries: 5,
		SnapshotFrequency:    100,
	}

	store := eventstore.NewMemoryEventStore()
	registry := projections.NewRegistry(cfg.EventNamespace)
	registry.RegisterAggregate("order", domain.NewJSONFactory("order"))

	processor := projections.NewProcessor(store, registry, metrics.New(),
		cfg.ProjectionBatchSize, cfg.ProjectionMaxRetries, 0)
	replay := projections.NewReplayService(store, registry, processor)
	queries := query.NewService(store, nil, time.Minute)

	server := NewServer(cfg, store, processor, replay, queries, metrics.New())

	bus := commandbus.NewBus(store, eventstore.NewMemorySnapshotStore(), cfg.SnapshotFrequency)
	bus.RegisterGenericCommands([]string{"order"})
	server.SetCommandBus(bus)

	return server, store
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestCreateEvent_IdempotentResubmission(t *testing.T) {
	server, _ := newTestServer(t)

	event := map[string]interface{}{
		"id":      "E1",
		"type":    "app.events.order.created",
		"subject": "A",
		"data":    map[string]interface{}{"name": "n1"},
	}

	first := doJSON(t, server, http.MethodPost, "/api/v1/events", event)
	assert.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, server, http.MethodPost, "/api/v1/events", event)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestCreateEvent_ValidationFailure(t *testing.T) {
	server, _ := newTestServer(t)

	response := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"subject": "A",
		"data":    map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestCreateEvent_SchemaValidatorRejects(t *testing.T) {
	server, _ := newTestServer(t)
	server.SetSchemaValidator(func(schemaRef string, payload map[string]interface{}) []string {
		return []string{"name is required"}
	})

	response := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"type":       "app.events.order.created",
		"dataschema": "order-created",
		"data":       map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, response.Code)
	assert.Contains(t, response.Body.String(), "name is required")
}

func TestCreateEvent_SequenceConflict(t *testing.T) {
	server, _ := newTestServer(t)

	first := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"id": "E1", "type": "app.events.order.created", "subject": "A", "sequence": 1,
		"data": map[string]interface{}{},
	})
	require.Equal(t, http.StatusCreated, first.Code)

	conflict := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"id": "E2", "type": "app.events.order.updated", "subject": "A", "sequence": 1,
		"data": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestGetEvent(t *testing.T) {
	server, _ := newTestServer(t)

	created := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"id": "E1", "type": "app.events.order.created", "subject": "A",
		"data": map[string]interface{}{"name": "n1"},
	})
	require.Equal(t, http.StatusCreated, created.Code)

	found := doJSON(t, server, http.MethodGet, "/api/v1/events/E1", nil)
	assert.Equal(t, http.StatusOK, found.Code)

	missing := doJSON(t, server, http.MethodGet, "/api/v1/events/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListEvents_RequiresFilter(t *testing.T) {
	server, _ := newTestServer(t)

	response := doJSON(t, server, http.MethodGet, "/api/v1/events", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestProjectionPipelineThroughAPI(t *testing.T) {
	server, _ := newTestServer(t)

	for i, name := range []string{"n1", "n2"} {
		response := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
			"id":      fmt.Sprintf("E%d", i+1),
			"type":    "app.events.order.created",
			"subject": "A",
			"data":    map[string]interface{}{"name": name},
		})
		require.Equal(t, http.StatusCreated, response.Code)
	}

	triggered := doJSON(t, server, http.MethodPost, "/api/v1/admin/projections/trigger", nil)
	require.Equal(t, http.StatusOK, triggered.Code)
	assert.JSONEq(t, `{"processed":2}`, triggered.Body.String())

	aggregate := doJSON(t, server, http.MethodGet, "/api/v1/aggregates/order/A", nil)
	require.Equal(t, http.StatusOK, aggregate.Code)

	var body AggregateStateResponse
	require.NoError(t, json.Unmarshal(aggregate.Body.Bytes(), &body))
	assert.Equal(t, "n2", body.State["name"])
	assert.Equal(t, 2, body.Version)
}

func TestGetAggregate_CorruptStateReturns500(t *testing.T) {
	server, store := newTestServer(t)

	err := store.SaveAggregateState(context.Background(), &models.AggregateState{
		AggregateType: "order",
		AggregateID:   "A",
		State:         []byte("{not json"),
	})
	require.NoError(t, err)

	response := doJSON(t, server, http.MethodGet, "/api/v1/aggregates/order/A", nil)
	assert.Equal(t, http.StatusInternalServerError, response.Code)
	assert.Contains(t, response.Body.String(), "failed to decode aggregate state")
}

func TestReplayThroughAPI(t *testing.T) {
	server, _ := newTestServer(t)

	created := doJSON(t, server, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"id": "E1", "type": "app.events.order.created", "subject": "A",
		"data": map[string]interface{}{"name": "n1"},
	})
	require.Equal(t, http.StatusCreated, created.Code)

	triggered := doJSON(t, server, http.MethodPost, "/api/v1/admin/projections/trigger", nil)
	require.Equal(t, http.StatusOK, triggered.Code)

	replayed := doJSON(t, server, http.MethodPost, "/api/v1/admin/projections/replay", nil)
	require.Equal(t, http.StatusOK, replayed.Code)

	var body map[string]int64
	require.NoError(t, json.Unmarshal(replayed.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body["eventsReplayed"])

	missing := doJSON(t, server, http.MethodPost, "/api/v1/admin/projections/replay?fromEventId=nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestEmitAggregateEvent(t *testing.T) {
	server, store := newTestServer(t)

	response := doJSON(t, server, http.MethodPost, "/api/v1/aggregates/order/A/events", map[string]interface{}{
		"type": "app.events.order.created",
		"data": map[string]interface{}{"name": "n1"},
	})
	require.Equal(t, http.StatusOK, response.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["version"])

	events, err := store.FindBySubject(context.Background(), "A")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	unknown := doJSON(t, server, http.MethodPost, "/api/v1/aggregates/widget/A/events", map[string]interface{}{
		"type": "app.events.widget.created",
		"data": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	ping := doJSON(t, server, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, ping.Code)
	assert.Equal(t, "pong", ping.Body.String())

	health := doJSON(t, server, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), "projection_lag_ms")

	metricsResponse := doJSON(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, metricsResponse.Code)
	assert.Contains(t, metricsResponse.Body.String(), "events_processed")
}

func TestDeadLettersEndpoint(t *testing.T) {
	server, store := newTestServer(t)

	err := store.MoveToDeadLetter(context.Background(), domain.Event{
		ID:   "E1",
		Type: "app.events.order.created",
	}, "max retries exceeded", "boom")
	require.NoError(t, err)

	response := doJSON(t, server, http.MethodGet, "/api/v1/admin/deadletters", nil)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), `"count":1`)
}

package projections

import (
	"strings"

	"example.com/platform/services/eventcore/domain"
)

// Registry holds the projection handlers and the aggregate types they cover.
// Registration happens at startup; the registry is read-only afterwards.
type Registry struct {
	namespace      string
	handlers       []EventHandler
	aggregateTypes []string
}

// NewRegistry creates a registry. namespace prefixes the default event-type
// routing, e.g. namespace "app.events" routes "app.events.order.*" to the
// Order aggregate's handler.
func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace}
}

// Register adds a custom projection handler.
func (r *Registry) Register(handler EventHandler) {
	r.handlers = append(r.handlers, handler)
}

// RegisterAggregate wires the generic JSON projection for an aggregate type
// and returns the handler so callers can attach an indexer or cache.
func (r *Registry) RegisterAggregate(aggregateType string, factory domain.Factory) *JSONAggregateHandler {
	handler := NewJSONAggregateHandler(aggregateType, r.PrefixFor(aggregateType), factory)
	r.handlers = append(r.handlers, handler)
	r.aggregateTypes = append(r.aggregateTypes, aggregateType)
	return handler
}

// PrefixFor returns the event-type prefix routed to an aggregate type.
func (r *Registry) PrefixFor(aggregateType string) string {
	return r.namespace + "." + strings.ToLower(aggregateType) + "."
}

// HandlerFor returns the first handler, in registration order, that accepts
// the event. Each event belongs to exactly one handler; nil means no handler
// claims it.
func (r *Registry) HandlerFor(event *domain.Event) EventHandler {
	for _, handler := range r.handlers {
		if handler.CanHandle(event) {
			return handler
		}
	}
	return nil
}

// AggregateTypes returns the aggregate types with a generic projection.
func (r *Registry) AggregateTypes() []string {
	types := make([]string, len(r.aggregateTypes))
	copy(types, r.aggregateTypes)
	return types
}

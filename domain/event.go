package domain

import (
	"time"
)

// Defaults applied to events that omit the optional envelope fields.
const (
	SpecVersion        = "1.0"
	DefaultContentType = "application/json"
)

// Event is a CloudEvents-style domain event: an immutable fact, identified
// globally and optionally scoped to a subject (aggregate ID).
type Event struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	SpecVersion string                 `json:"specversion"`
	Type        string                 `json:"type"`
	Subject     string                 `json:"subject,omitempty"`
	Sequence    int                    `json:"sequence,omitempty"`
	Time        time.Time              `json:"time"`
	ContentType string                 `json:"datacontenttype"`
	SchemaRef   string                 `json:"dataschema,omitempty"`
	Data        map[string]interface{} `json:"data"`

	CreatedAt   time.Time  `json:"created_at"`
	RetryCount  int        `json:"retry_count,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// WithDefaults fills in the optional envelope fields the producer omitted.
func (e Event) WithDefaults() Event {
	if e.SpecVersion == "" {
		e.SpecVersion = SpecVersion
	}
	if e.ContentType == "" {
		e.ContentType = DefaultContentType
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	return e
}

package outbox

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Publisher delivers outbox payloads to an external broker. Delivery must be
// safe to retry: a payload left PENDING will be published again.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close(ctx context.Context) error
}

// LogPublisher writes outbox payloads to the log. Used in development and
// when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	log.Info().
		Str("topic", topic).
		RawJSON("payload", payload).
		Msg("Outbox event published")
	return nil
}

func (p *LogPublisher) Close(ctx context.Context) error {
	return nil
}

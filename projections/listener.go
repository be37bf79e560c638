package projections

import (
	"context"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = 30 * time.Second

	// startupDelay postpones the subscription and the catch-up pass until
	// the rest of the worker has finished wiring up.
	startupDelay = 2 * time.Second

	// pingInterval bounds how long a silently dead connection goes unnoticed.
	pingInterval = 90 * time.Second
)

// Listener wakes the batch processor on Postgres notifications. Delivery is
// best effort: missed notifications are covered by the startup catch-up pass
// and the processor's interval fallback.
type Listener struct {
	conninfo  string
	channel   string
	processor *Processor
	delay     time.Duration

	mu         sync.Mutex
	pqListener *pq.Listener
	stopCh     chan struct{}
}

func NewListener(conninfo, channel string, processor *Processor) *Listener {
	return &Listener{
		conninfo:  conninfo,
		channel:   channel,
		processor: processor,
		delay:     startupDelay,
		stopCh:    make(chan struct{}),
	}
}

// Start returns immediately; after the startup delay it runs the catch-up
// pass, opens the notification connection and begins dispatching.
func (l *Listener) Start(ctx context.Context) {
	go func() {
		select {
		case <-time.After(l.delay):
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}

		// Events committed before the subscription goes live get no
		// notification; the interval fallback covers the remaining gap.
		l.processor.TriggerBackground()

		listener, err := l.connect()
		if err != nil {
			log.Error().Err(err).Msg("Failed to open notification connection")
			return
		}
		if listener == nil {
			return
		}
		log.Info().Str("channel", l.channel).Msg("Listening for event notifications")
		l.dispatch(ctx, listener)
	}()
}

// connect opens the subscription. A nil listener without error means Stop won
// the race and the connection was discarded.
func (l *Listener) connect() (*pq.Listener, error) {
	listener := pq.NewListener(l.conninfo, minReconnectInterval, maxReconnectInterval, l.connectionEvent)
	if err := listener.Listen(l.channel); err != nil {
		listener.Close()
		return nil, errors.Wrapf(err, "failed to listen on channel %s", l.channel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopCh:
		listener.Close()
		return nil, nil
	default:
	}
	l.pqListener = listener
	return listener, nil
}

// Stop closes the notification connection, or prevents it from opening when
// called during the startup delay.
func (l *Listener) Stop() error {
	close(l.stopCh)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pqListener != nil {
		return l.pqListener.Close()
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, listener *pq.Listener) {
	for {
		select {
		case notification := <-listener.Notify:
			// A nil notification signals a reconnect; events may have been
			// committed while the connection was down.
			if notification != nil {
				log.Debug().
					Str("channel", notification.Channel).
					Str("payload", notification.Extra).
					Msg("Received event notification")
			}
			l.processor.TriggerBackground()
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Msg("Notification connection ping failed")
				}
			}()
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Listener) connectionEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected, pq.ListenerEventReconnected:
		log.Info().Msg("Event notification connection established")
	case pq.ListenerEventDisconnected:
		log.Warn().Err(err).Msg("Event notification connection lost")
	case pq.ListenerEventConnectionAttemptFailed:
		log.Warn().Err(err).Msg("Event notification reconnect failed")
	}
}

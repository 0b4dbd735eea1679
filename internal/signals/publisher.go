// Package signals publishes optimised position vectors to NATS so downstream
// execution services can act on them.
package signals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/gasignal/internal/metrics"
)

const defaultPrefix = "signals."

// ErrNotConnected is returned when the NATS connection is down
var ErrNotConnected = errors.New("signal publisher not connected")

// SignalMessage is the payload published for each finished run
type SignalMessage struct {
	ID          uuid.UUID `json:"id"`
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	Markets     []string  `json:"markets"`
	Positions   []int     `json:"positions"`
	Score       float64   `json:"score"`
	Seed        int64     `json:"seed"`
	Generations int       `json:"generations"`
	Cached      bool      `json:"cached"`
	Timestamp   time.Time `json:"timestamp"`
}

// PublisherConfig configures the signal publisher
type PublisherConfig struct {
	NATSURL string
	Prefix  string // Subject prefix (default: "signals.")
}

// Publisher sends signal messages over NATS behind a circuit breaker
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	breaker *gobreaker.CircuitBreaker
}

// NewPublisher connects to NATS and creates a publisher
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	nc, err := nats.Connect(
		config.NATSURL,
		nats.Name("gasignal-publisher"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().
		Str("nats_url", config.NATSURL).
		Str("prefix", config.Prefix).
		Msg("Signal publisher initialized")

	return NewPublisherWithConn(nc, config.Prefix), nil
}

// NewPublisherWithConn wraps an existing NATS connection
func NewPublisherWithConn(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{
		nc:      nc,
		prefix:  prefix,
		breaker: newBreaker(),
	}
}

// newBreaker trips after 3 requests with at least 60% failures and probes
// again after 30 seconds
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "signal_publisher",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Subject returns the subject a signal with the given name is published on
func (p *Publisher) Subject(name string) string {
	if name == "" {
		name = "default"
	}
	return p.prefix + sanitizeToken(name)
}

// sanitizeToken keeps NATS subject tokens free of separators and wildcards
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Publish sends a signal message
func (p *Publisher) Publish(ctx context.Context, msg *SignalMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	subject := p.Subject(msg.Name)

	_, err = p.breaker.Execute(func() (interface{}, error) {
		if p.nc == nil || !p.nc.IsConnected() {
			return nil, ErrNotConnected
		}
		if err := p.nc.Publish(subject, data); err != nil {
			return nil, err
		}
		flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return nil, p.nc.FlushWithContext(flushCtx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordSignalPublish(metrics.PublishRejected)
		} else {
			metrics.RecordSignalPublish(metrics.PublishFailure)
		}
		return fmt.Errorf("failed to publish signal: %w", err)
	}

	metrics.RecordSignalPublish(metrics.PublishSuccess)
	log.Debug().
		Str("message_id", msg.ID.String()).
		Str("run_id", msg.RunID).
		Str("subject", subject).
		Float64("score", msg.Score).
		Msg("Published signal")

	return nil
}

// State reports the circuit breaker state
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

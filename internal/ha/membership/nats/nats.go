// Package nats is the default ports.MembershipPublisher: it publishes
// cluster membership events (status changes, broker added/removed) to a
// NATS subject so every broker in the deployment can build a consistent
// membership view, wrapping each publish in a circuit breaker the way this
// codebase's HTTP mediator wraps outbound webhook calls.
package nats

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"go.brokerha.dev/internal/ha/ports"
	"go.brokerha.dev/internal/ha/types"
)

// Config holds the NATS connection settings. The circuit-breaker settings
// are fixed in Connect.
type Config struct {
	URL     string
	Subject string
}

// DefaultConfig targets a local NATS server on the conventional membership
// subject.
func DefaultConfig() Config {
	return Config{URL: natsgo.DefaultURL, Subject: "broker-ha.membership"}
}

type event struct {
	Type     string           `json:"type"` // "status", "add", "remove"
	Status   string           `json:"status,omitempty"`
	Info     *types.BrokerInfo `json:"info,omitempty"`
	SystemID string           `json:"systemId,omitempty"`
}

// Publisher implements ports.MembershipPublisher over a NATS connection.
type Publisher struct {
	conn    *natsgo.Conn
	subject string
	breaker *gobreaker.CircuitBreaker
}

// Connect dials cfg.URL and returns a ready Publisher.
func Connect(cfg Config) (*Publisher, error) {
	conn, err := natsgo.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to membership nats server: %w", err)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "membership-publisher",
		MaxRequests: 5,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info().Str("name", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Membership publisher circuit breaker state changed")
		},
	})
	return &Publisher{conn: conn, subject: cfg.Subject, breaker: breaker}, nil
}

var _ ports.MembershipPublisher = (*Publisher)(nil)

func (p *Publisher) publish(ev event) {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		return nil, p.conn.Publish(p.subject, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("subject", p.subject).Msg("Membership publish circuit open, event dropped")
			return
		}
		log.Error().Err(err).Str("subject", p.subject).Msg("Failed to publish membership event")
	}
}

// SetStatus implements ports.MembershipPublisher.
func (p *Publisher) SetStatus(status types.BrokerStatus) {
	p.publish(event{Type: "status", Status: status.String()})
}

// Add implements ports.MembershipPublisher.
func (p *Publisher) Add(info types.BrokerInfo) {
	p.publish(event{Type: "add", Info: &info})
}

// Remove implements ports.MembershipPublisher.
func (p *Publisher) Remove(id uuid.UUID) {
	p.publish(event{Type: "remove", SystemID: id.String()})
}

// Close closes the underlying NATS connection without draining it.
func (p *Publisher) Close() {
	p.conn.Close()
}

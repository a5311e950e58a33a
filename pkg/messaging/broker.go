package messaging

import (
	"context"

	"github.com/accountkit/lifecycle-api/pkg/circuitbreaker"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

// Message is the envelope published on lifecycle channels.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type noopBroker struct{}

// NewNoop returns a Broker that drops every message. Used when no broker is
// configured and in tests.
func NewNoop() Broker {
	return noopBroker{}
}

func (noopBroker) Publish(context.Context, string, interface{}) error { return nil }
func (noopBroker) Close() error                                       { return nil }

type breakerBroker struct {
	broker  Broker
	breaker *circuitbreaker.CircuitBreaker
}

// WithCircuitBreaker wraps a broker so a persistently failing downstream is
// given time to recover instead of being retried on every publish.
func WithCircuitBreaker(broker Broker, breaker *circuitbreaker.CircuitBreaker) Broker {
	return &breakerBroker{broker: broker, breaker: breaker}
}

func (b *breakerBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return b.breaker.Execute(func() error {
		return b.broker.Publish(ctx, channel, message)
	})
}

func (b *breakerBroker) Close() error {
	return b.broker.Close()
}

// Package transport defines the core interfaces and types for floodline
// transports. Each backend (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines the publisher and subscriber pair a run drives load through.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides a Builder that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports. The
// interface lets transports access only the keys they need without depending
// on the harness config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// GetConsumerGroup returns the competing-consumer group name. Transports
	// without group semantics ignore it.
	GetConsumerGroup() string

	// GetPrefetchCount returns the read-ahead hint. Transports map it onto
	// their own buffering knobs; it is a hint, not a guarantee.
	GetPrefetchCount() int

	// Kafka
	GetKafkaBrokers() []string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS (core and JetStream)
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// Provisioner is implemented by transports that can create and remove the
// destination and consumer group a run needs. The supervisor provisions
// before starting engines and deprovisions after the run when asked to.
type Provisioner interface {
	Provision(ctx context.Context, destination, group string) error
	Deprovision(ctx context.Context, destination, group string) error
}

// QueueIntrospector is implemented by transports that can report how many
// messages are still waiting for the group. Used to explain incomplete runs.
type QueueIntrospector interface {
	PendingCount(ctx context.Context, destination, group string) (int64, error)
}

// ProvisionerOf returns the transport's Provisioner if either half
// implements it. Most backends that provision do so from a single type
// serving as both publisher and subscriber.
func ProvisionerOf(t Transport) (Provisioner, bool) {
	if p, ok := t.Publisher.(Provisioner); ok {
		return p, true
	}
	if p, ok := t.Subscriber.(Provisioner); ok {
		return p, true
	}
	return nil, false
}

// IntrospectorOf returns the transport's QueueIntrospector if either
// half implements it.
func IntrospectorOf(t Transport) (QueueIntrospector, bool) {
	if q, ok := t.Publisher.(QueueIntrospector); ok {
		return q, true
	}
	if q, ok := t.Subscriber.(QueueIntrospector); ok {
		return q, true
	}
	return nil, false
}

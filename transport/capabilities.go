package transport

// Capabilities describes the delivery features of a transport backend. The
// harness uses this to decide what a run can rely on and to annotate reports.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsConsumerGroups indicates the backend distributes a destination's
	// messages among the members of a named group. When false, competing
	// consumption only works through the harness's shared in-process
	// subscription.
	SupportsConsumerGroups bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// GuaranteesAtLeastOnce indicates unacknowledged messages are redelivered.
	// Lossy transports can under-deliver and a run may finish incomplete.
	GuaranteesAtLeastOnce bool

	// SupportsOrdering indicates messages within a partition/stream arrive in
	// publish order.
	SupportsOrdering bool

	// SupportsPrefetch indicates the read-ahead hint maps onto a real
	// buffering knob of the backend.
	SupportsPrefetch bool

	// SupportsProvisioning indicates the transport implements Provisioner.
	SupportsProvisioning bool

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// RequiresGroupEmulation returns true if competing consumers only work
// through the harness-level shared subscription.
func (c Capabilities) RequiresGroupEmulation() bool {
	return !c.SupportsConsumerGroups
}

// SupportsReliableDelivery returns true if a run on this transport can expect
// every published message to be received (ack + redelivery).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.GuaranteesAtLeastOnce
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsConsumerGroups: false,
		SupportsAck:            true,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       true,
		SupportsPrefetch:       true,
	}

	// KafkaCapabilities for the Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       true,
		SupportsPrefetch:       false,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       true,
		SupportsPrefetch:       true,
	}

	// NATSCapabilities for the NATS Core transport. Core NATS is fire-and-forget.
	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsConsumerGroups: true,
		SupportsAck:            false,
		GuaranteesAtLeastOnce:  false,
		SupportsOrdering:       false,
		SupportsPrefetch:       false,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// NATSJetStreamCapabilities for the NATS JetStream transport.
	NATSJetStreamCapabilities = Capabilities{
		Name:                   "nats-jetstream",
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       true,
		SupportsPrefetch:       true,
		SupportsProvisioning:   true,
		MaxMessageSize:         1048576, // Default 1MB
	}

	// AWSCapabilities for the AWS SNS/SQS transport.
	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsConsumerGroups: true,
		SupportsAck:            true,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       false,
		SupportsPrefetch:       false,
		MaxMessageSize:         262144, // 256KB
	}

	// HTTPCapabilities for the HTTP transport.
	HTTPCapabilities = Capabilities{
		Name:                   "http",
		SupportsConsumerGroups: false,
		SupportsAck:            false,
		GuaranteesAtLeastOnce:  false,
		SupportsOrdering:       false,
		SupportsPrefetch:       false,
	}

	// IOCapabilities for the file-based I/O transport.
	IOCapabilities = Capabilities{
		Name:                   "io",
		SupportsConsumerGroups: false,
		SupportsAck:            false,
		GuaranteesAtLeastOnce:  true,
		SupportsOrdering:       true,
		SupportsPrefetch:       false,
	}
)

// GetCapabilities returns the capabilities for a transport by name, using the
// default registry. Returns a zero Capabilities struct for unknown transports.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}

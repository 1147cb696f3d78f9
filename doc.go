// Package floodline is a load generation harness for message brokers built on
// Watermill. It drives a configurable fleet of producers and consumers through
// a single destination, tracks every message by a sequence identifier, and
// hands back a report with throughput, latency percentiles, duplicate counts,
// and resource usage. The target transport (Kafka, RabbitMQ, NATS, JetStream,
// AWS SNS/SQS, HTTP, I/O, or Go channels) is read from Config, so the same run
// definition can be replayed against different brokers.
//
// Supervisor hosts a run end to end: it builds the transport, optionally
// provisions the destination, starts consumers before producers, logs progress
// every poll interval, waits for consumers to catch up after the producers
// finish, and stops everything in reverse order. A minimal setup therefore
// involves filling Config, creating a Supervisor, and calling Run; see
// README.md for a copy/paste quick start snippet.
//
// # Transports
//
// Floodline supports 8 message transports out of the box:
//   - channel: In-memory Go channels for local runs and tests
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - nats: Core NATS queue groups
//   - nats-jetstream: Persistent NATS streams with provisioning
//   - aws: AWS SNS/SQS with LocalStack support
//   - http: Request/response messaging between two harness processes
//   - io: File-based persistence
//
// # Engines
//
// Producers mint envelopes with run-unique identifiers and keep a bounded
// window of sends awaiting broker confirmation; throttled and failed sends are
// resubmitted under the same identifier until the attempt cap is reached.
// Consumers read one delivery at a time, deduplicate on the identifier, and
// acknowledge everything, redeliveries included. Both engines are daemons with
// a one-shot stop signal and a bounded stop wait, so an interrupted run still
// shuts down cleanly and reports what it saw.
//
// # Send-path decorators
//
// The send path can be shaped without touching the broker: a token-bucket rate
// cap resolves excess sends as throttled, and a circuit breaker short-circuits
// sends while the backend is rejecting them. Both feed the same receipt
// contract the producers reconcile, so shaped and broker-side backpressure
// exercise the identical retry path.
//
// # Observability
//
// Runs log through a structured logger shared with Watermill, export
// Prometheus counters and latency histograms when enabled, and open an
// OpenTelemetry span around each run. The final Report carries everything the
// metrics do, so one-shot runs need no scrape target.
//
// When you need more control, the exported building blocks compose: bring your
// own Broker implementation, wrap sessions in extra decorators, or register a
// custom transport with RegisterTransport and select it by name in Config.
package floodline

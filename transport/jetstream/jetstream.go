// Package jetstream provides a NATS JetStream transport for floodline.
//
// Each destination maps to its own stream and each consumer group to a
// durable pull consumer on that stream, so competing readers share one
// cursor and unacked messages are redelivered. This is the transport to
// use when a run must verify at-least-once delivery.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/streamhaus/floodline/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats-jetstream"

const (
	// DefaultAckWait is the default ack wait timeout before redelivery.
	DefaultAckWait = 30 * time.Second

	// DefaultFetchBatch is the default pull batch size.
	DefaultFetchBatch = 10

	// DefaultMaxAge is the default stream retention age.
	DefaultMaxAge = 24 * time.Hour

	// HeaderMessageUUID carries the message UUID across the wire.
	HeaderMessageUUID = "fl_uuid"
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSJetStreamCapabilities)
}

// Build creates a new NATS JetStream transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	config := Config{
		URL:      cfg.GetNATSURL(),
		Group:    cfg.GetConsumerGroup(),
		Prefetch: cfg.GetPrefetchCount(),
	}

	t, err := New(config, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

// Config holds NATS JetStream-specific configuration.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// Group is the consumer group. It names the durable pull consumer
	// that all readers of a destination share.
	Group string

	// Prefetch is the pull batch size. Defaults to DefaultFetchBatch.
	Prefetch int

	// MaxDeliver caps redelivery attempts. Zero means unlimited, which
	// is what a verification run usually wants.
	MaxDeliver int

	// AckWait is how long the server waits for an ack before it
	// redelivers.
	AckWait time.Duration

	// Replicas is the number of stream replicas (for clustering).
	Replicas int

	// RetentionPolicy: "limits" (default), "interest", or "workqueue".
	RetentionPolicy string

	// MaxAge bounds how long the stream keeps messages.
	MaxAge time.Duration
}

func (c Config) withDefaults() Config {
	if c.Group == "" {
		c.Group = "floodline_cg"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = DefaultFetchBatch
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Transport implements Publisher and Subscriber for NATS JetStream. It
// also provisions and introspects the streams and durable consumers it
// reads from.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subscriptions []*nats.Subscription
	subMu         sync.Mutex

	closed     bool
	closedMu   sync.RWMutex
	closedChan chan struct{}
}

// New creates a new NATS JetStream transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Transport{
		nc:         nc,
		js:         js,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}, nil
}

// Provision creates or updates the stream for the destination and the
// durable pull consumer for the group.
func (t *Transport) Provision(ctx context.Context, destination, group string) error {
	if err := t.ensureStream(ctx, destination); err != nil {
		return err
	}
	return t.ensureConsumer(ctx, destination, group)
}

// Deprovision deletes the group's durable consumer and the destination's
// stream. Missing objects are not an error.
func (t *Transport) Deprovision(ctx context.Context, destination, group string) error {
	stream := streamNameFor(destination)

	err := t.js.DeleteConsumer(stream, consumerNameFor(group), nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrConsumerNotFound) && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to delete consumer: %w", err)
	}

	if err := t.js.DeleteStream(stream, nats.Context(ctx)); err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to delete stream: %w", err)
	}

	return nil
}

// PendingCount reports how many messages the group's consumer has not
// yet received.
func (t *Transport) PendingCount(ctx context.Context, destination, group string) (int64, error) {
	info, err := t.js.ConsumerInfo(streamNameFor(destination), consumerNameFor(group), nats.Context(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to read consumer info: %w", err)
	}
	return int64(info.NumPending), nil
}

func (t *Transport) ensureStream(ctx context.Context, destination string) error {
	streamCfg := &nats.StreamConfig{
		Name:     streamNameFor(destination),
		Subjects: []string{destination},
		MaxAge:   t.config.MaxAge,
		Replicas: t.config.Replicas,
	}

	switch t.config.RetentionPolicy {
	case "interest":
		streamCfg.Retention = nats.InterestPolicy
	case "workqueue":
		streamCfg.Retention = nats.WorkQueuePolicy
	default:
		streamCfg.Retention = nats.LimitsPolicy
	}

	if _, err := t.js.AddStream(streamCfg, nats.Context(ctx)); err != nil {
		if _, err := t.js.UpdateStream(streamCfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to ensure stream %q: %w", streamCfg.Name, err)
		}
	}

	return nil
}

func (t *Transport) ensureConsumer(ctx context.Context, destination, group string) error {
	stream := streamNameFor(destination)
	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerNameFor(group),
		FilterSubject: destination,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(stream, consumerCfg, nats.Context(ctx)); err != nil {
		if _, err := t.js.UpdateConsumer(stream, consumerCfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to ensure consumer %q on stream %q: %w", consumerCfg.Durable, stream, err)
		}
	}

	return nil
}

// Publish publishes messages to the destination's stream.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	for _, msg := range messages {
		headers := nats.Header{}
		for k, v := range msg.Metadata {
			headers.Set(k, v)
		}
		headers.Set(HeaderMessageUUID, msg.UUID)

		natsMsg := &nats.Msg{
			Subject: topic,
			Data:    msg.Payload,
			Header:  headers,
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("failed to publish to JetStream: %w", err)
		}
	}

	return nil
}

// Subscribe provisions the destination if needed and returns a channel
// fed by the group's durable pull consumer.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	t.closedMu.RLock()
	if t.closed {
		t.closedMu.RUnlock()
		return nil, fmt.Errorf("transport is closed")
	}
	t.closedMu.RUnlock()

	if err := t.Provision(ctx, topic, t.config.Group); err != nil {
		return nil, err
	}

	durable := consumerNameFor(t.config.Group)
	sub, err := t.js.PullSubscribe(topic, durable, nats.Bind(streamNameFor(topic), durable))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetchMessages(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchMessages(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		msgs, err := sub.Fetch(t.config.Prefetch, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if t.logger != nil {
				t.logger.Error("Failed to fetch messages", err, watermill.LogFields{
					"topic": topic,
				})
			}
			continue
		}

		for _, natsMsg := range msgs {
			wmMsg := t.natsToWatermill(natsMsg)

			select {
			case output <- wmMsg:
				select {
				case <-wmMsg.Acked():
					if err := natsMsg.Ack(); err != nil && t.logger != nil {
						t.logger.Error("Failed to ack", err, nil)
					}
				case <-wmMsg.Nacked():
					if err := natsMsg.Nak(); err != nil && t.logger != nil {
						t.logger.Error("Failed to nak", err, nil)
					}
				case <-ctx.Done():
					return
				case <-t.closedChan:
					return
				}
			case <-ctx.Done():
				return
			case <-t.closedChan:
				return
			}
		}
	}
}

func (t *Transport) natsToWatermill(natsMsg *nats.Msg) *message.Message {
	msgID := natsMsg.Header.Get(HeaderMessageUUID)
	if msgID == "" {
		msgID = strconv.FormatInt(time.Now().UnixNano(), 10)
	}

	wmMsg := message.NewMessage(msgID, natsMsg.Data)

	for k, v := range natsMsg.Header {
		if len(v) > 0 {
			wmMsg.Metadata.Set(k, v[0])
		}
	}

	return wmMsg
}

// streamNameFor derives a stream name from a destination. JetStream
// names cannot contain dots, spaces, or wildcards.
func streamNameFor(destination string) string {
	return sanitizeName(destination)
}

// consumerNameFor derives a durable consumer name from a group.
func consumerNameFor(group string) string {
	return sanitizeName(group)
}

func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Close closes the JetStream transport.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		sub.Unsubscribe()
	}
	t.subscriptions = nil
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// GetCapabilities returns the JetStream transport capabilities.
func (t *Transport) GetCapabilities() transport.Capabilities {
	return transport.NATSJetStreamCapabilities
}

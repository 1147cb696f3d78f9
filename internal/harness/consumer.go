package harness

import (
	"context"
	"errors"
	"time"

	"github.com/streamhaus/floodline/internal/harness/envelope"
	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

// DefaultReadTimeout bounds one wait on a pending read before the
// consumer re-checks its stop signal.
const DefaultReadTimeout = 500 * time.Millisecond

// ConsumerConfig configures one consumer engine instance.
type ConsumerConfig struct {
	// Name labels the engine in logs.
	Name string
	// ReadTimeout is the poll slice while waiting for a delivery.
	ReadTimeout time.Duration
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Name == "" {
		c.Name = "consumer"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Consumer reads deliveries one at a time until stopped. Every
// delivery is decoded, checked against the shared duplicate set and
// acknowledged; redeliveries count but are still acknowledged so the
// broker stops resending them.
type Consumer struct {
	*daemonCore

	cfg    ConsumerConfig
	broker Broker
	run    *RunContext
	log    logging.Logger
}

func NewConsumer(cfg ConsumerConfig, broker Broker, run *RunContext, log logging.Logger) (*Consumer, error) {
	if broker == nil {
		return nil, flerrors.ErrBrokerRequired
	}
	if run == nil {
		return nil, flerrors.ErrRunContextRequired
	}
	if log == nil {
		return nil, flerrors.ErrLoggerRequired
	}
	cfg = cfg.withDefaults()

	return &Consumer{
		daemonCore: newDaemonCore(cfg.Name, cfg.StopTimeout, log),
		cfg:        cfg,
		broker:     broker,
		run:        run,
		log:        log.With(logging.LogFields{"consumer": cfg.Name}),
	}, nil
}

// Start opens a read session and launches the work loop. It returns
// immediately; completion is observed through Done.
func (c *Consumer) Start(ctx context.Context) error {
	return c.launch(func() error {
		return c.runLoop(ctx)
	})
}

func (c *Consumer) runLoop(ctx context.Context) error {
	session, err := c.broker.OpenReadSession(ctx)
	if err != nil {
		c.run.Stats().AddEngineFailure()
		c.log.Error("Failed to open read session", err, nil)
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.log.Error("Failed to close read session", cerr, nil)
		}
	}()

	c.log.Info("Consumer started", logging.LogFields{"read_timeout": c.cfg.ReadTimeout.String()})

	for !c.stopping() {
		start := time.Now()

		pending, err := session.Read(ctx)
		if err != nil {
			c.run.Stats().AddReadError()
			c.run.Stats().AddEngineFailure()
			c.log.Error("Failed to issue read", err, nil)
			return err
		}

		delivery, ok, err := c.awaitDelivery(pending)
		if err != nil {
			c.run.Stats().AddReadError()
			c.run.Stats().AddEngineFailure()
			c.log.Error("Read wait failed", err, nil)
			return err
		}
		if !ok {
			break
		}
		c.run.Stats().RecordReadLatency(time.Since(start))

		env, err := envelope.Decode(delivery.Payload())
		if err != nil {
			c.run.Stats().AddReadError()
			c.run.Stats().AddEngineFailure()
			c.log.Error("Failed to decode delivery", err, nil)
			return err
		}

		if !c.run.Duplicates().Add(env.ID) {
			c.run.Stats().AddDuplicate()
			c.log.Debug("Duplicate delivery", logging.LogFields{"message_id": env.ID})
		}

		// Acknowledge redeliveries too, or the broker keeps resending
		// a message the run has already accounted for.
		if err := delivery.Ack(); err != nil {
			c.run.Stats().AddReadError()
			c.run.Stats().AddEngineFailure()
			c.log.Error("Failed to acknowledge delivery", err, logging.LogFields{"message_id": env.ID})
			return err
		}

		c.run.Stats().AddReceived(len(delivery.Payload()))
		c.log.Trace("Received message", logging.LogFields{"message_id": env.ID})
	}

	c.log.Info("Consumer stopping", nil)
	return nil
}

// awaitDelivery blocks on a pending read in ReadTimeout slices. Each
// timeout re-checks the stop signal; a stop or the end of the run
// context ends the wait with ok=false and the outstanding read is
// deliberately left unresolved.
func (c *Consumer) awaitDelivery(pending PendingRead) (delivery Delivery, ok bool, err error) {
	for {
		delivery, err = pending.Await(c.cfg.ReadTimeout)
		if err == nil {
			return delivery, true, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, nil
		}
		if !errors.Is(err, flerrors.ErrAwaitTimeout) {
			return nil, false, err
		}
		if c.stopping() {
			return nil, false, nil
		}
	}
}

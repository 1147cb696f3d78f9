package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/streamhaus/floodline/internal/harness/envelope"
	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

// StopPolicy controls what a producer does with outstanding sends when
// it is stopped mid-run.
type StopPolicy string

const (
	// StopAbandon exits without watching outstanding receipts. Sends
	// already submitted are never cancelled; their outcomes are simply
	// no longer observed.
	StopAbandon StopPolicy = "abandon"
	// StopDrain mints nothing new but keeps reconciling every
	// outstanding receipt, retries included, until the window is empty.
	StopDrain StopPolicy = "drain"
)

// Engine defaults, applied when the corresponding config field is
// unset.
const (
	DefaultMaxInflight   = 4 * 1024
	DefaultMaxAttempts   = 16
	DefaultRetryDelay    = time.Millisecond
	DefaultAwaitInterval = 500 * time.Millisecond
)

// ProducerConfig configures one producer engine instance.
type ProducerConfig struct {
	// Name labels the engine in logs.
	Name string
	// TotalToSend is how many distinct messages this producer mints.
	TotalToSend int
	// PayloadSize is the payload length in bytes, identifier excluded.
	PayloadSize int
	// MaxInflight caps how many sends may be awaiting resolution.
	MaxInflight int
	// MaxAttempts caps submissions per identifier, the first included.
	MaxAttempts int
	// RetryDelay is slept before resubmitting a throttled send.
	RetryDelay time.Duration
	// AwaitInterval is the poll slice while blocking on a receipt; the
	// stop signal is observed between polls.
	AwaitInterval time.Duration
	// StopPolicy picks what happens to outstanding sends on stop.
	StopPolicy StopPolicy
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout time.Duration
}

func (c ProducerConfig) withDefaults() ProducerConfig {
	if c.Name == "" {
		c.Name = "producer"
	}
	if c.TotalToSend < 0 {
		c.TotalToSend = 0
	}
	if c.PayloadSize < 0 {
		c.PayloadSize = 0
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = DefaultMaxInflight
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.AwaitInterval <= 0 {
		c.AwaitInterval = DefaultAwaitInterval
	}
	if c.StopPolicy == "" {
		c.StopPolicy = StopAbandon
	}
	return c
}

// Producer pushes a fixed number of messages through the broker while
// keeping at most MaxInflight sends unresolved. Receipts are
// reconciled oldest first; throttled and failed sends are resubmitted
// under the same identifier until MaxAttempts is exhausted.
type Producer struct {
	*daemonCore

	cfg     ProducerConfig
	broker  Broker
	run     *RunContext
	log     logging.Logger
	payload []byte
}

// inflightSend is one submitted envelope the engine has not yet
// reconciled.
type inflightSend struct {
	id      uint64
	attempt int
	sentAt  time.Time
	receipt Receipt
}

// resubmission asks the submission step to resend an identifier
// instead of minting a new one.
type resubmission struct {
	id      uint64
	attempt int
}

func NewProducer(cfg ProducerConfig, broker Broker, run *RunContext, log logging.Logger) (*Producer, error) {
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

	payload := make([]byte, cfg.PayloadSize)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	return &Producer{
		daemonCore: newDaemonCore(cfg.Name, cfg.StopTimeout, log),
		cfg:        cfg,
		broker:     broker,
		run:        run,
		log:        log.With(logging.LogFields{"producer": cfg.Name}),
		payload:    payload,
	}, nil
}

// Start opens a send session and launches the work loop. It returns
// immediately; completion is observed through Done.
func (p *Producer) Start(ctx context.Context) error {
	return p.launch(func() error {
		return p.runLoop(ctx)
	})
}

func (p *Producer) runLoop(ctx context.Context) error {
	session, err := p.broker.OpenSendSession(ctx)
	if err != nil {
		p.run.Stats().AddEngineFailure()
		p.log.Error("Failed to open send session", err, nil)
		return err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.log.Error("Failed to close send session", cerr, nil)
		}
	}()

	p.log.Info("Producer started", logging.LogFields{
		"target":       p.cfg.TotalToSend,
		"payload_size": p.cfg.PayloadSize,
		"max_inflight": p.cfg.MaxInflight,
	})

	remaining := p.cfg.TotalToSend
	window := make([]inflightSend, 0, p.cfg.MaxInflight)

	for remaining > 0 || len(window) > 0 {
		var resub *resubmission

		// Reconcile the oldest outstanding send once the window is
		// full, or whenever nothing new is left to mint.
		if len(window) >= p.cfg.MaxInflight || remaining == 0 {
			oldest := window[0]
			window = window[1:]

			result, resolved, err := p.awaitReceipt(oldest.receipt)
			if err != nil {
				p.run.Stats().AddEngineFailure()
				p.log.Error("Receipt wait failed", err, logging.LogFields{"message_id": oldest.id})
				return err
			}
			if !resolved {
				p.log.Info("Abandoning outstanding sends on stop", logging.LogFields{
					"outstanding": len(window) + 1,
				})
				return nil
			}

			// Latency is recorded for every resolved attempt, failures
			// included, so retry storms surface in the percentiles.
			p.run.Stats().RecordSendLatency(time.Since(oldest.sentAt))

			switch result.Status {
			case SendOK:
				// reconciled
			case SendThrottled:
				p.run.Stats().AddSendError()
				p.run.Stats().AddThrottle()
				if oldest.attempt >= p.cfg.MaxAttempts {
					return p.giveUp(oldest, result.Err)
				}
				time.Sleep(p.cfg.RetryDelay)
				resub = &resubmission{id: oldest.id, attempt: oldest.attempt + 1}
			default:
				p.run.Stats().AddSendError()
				if oldest.attempt >= p.cfg.MaxAttempts {
					return p.giveUp(oldest, result.Err)
				}
				resub = &resubmission{id: oldest.id, attempt: oldest.attempt + 1}
			}
		}

		// Submit: a resubmission reuses its identifier, otherwise a
		// fresh one is minted. When stopped with nothing to resubmit
		// the iteration falls through to the stop check.
		if resub != nil || remaining > 0 {
			id, attempt := uint64(0), 1
			if resub != nil {
				id, attempt = resub.id, resub.attempt
			} else {
				id = p.run.NextID()
				remaining--
			}

			buf := envelope.Envelope{ID: id, Payload: p.payload}.Encode()
			receipt, err := session.Send(ctx, buf)
			if err != nil {
				p.run.Stats().AddEngineFailure()
				p.log.Error("Send submission failed", err, logging.LogFields{"message_id": id})
				return err
			}
			window = append(window, inflightSend{
				id:      id,
				attempt: attempt,
				sentAt:  time.Now(),
				receipt: receipt,
			})
			p.run.Stats().AddSent(len(buf))
			p.log.Trace("Submitted message", logging.LogFields{"message_id": id, "attempt": attempt})
		}

		if p.stopping() {
			if p.cfg.StopPolicy == StopDrain {
				remaining = 0
			} else {
				p.log.Info("Producer stopping", logging.LogFields{
					"outstanding": len(window),
					"unsent":      remaining,
				})
				return nil
			}
		}
	}

	p.log.Info("Producer finished", logging.LogFields{"target": p.cfg.TotalToSend})
	return nil
}

// awaitReceipt blocks on a receipt in AwaitInterval slices so the stop
// signal stays observable. Under StopAbandon a stop ends the wait with
// resolved=false; under StopDrain the wait continues until the broker
// answers.
func (p *Producer) awaitReceipt(r Receipt) (result SendResult, resolved bool, err error) {
	for {
		result, err = r.Await(p.cfg.AwaitInterval)
		if err == nil {
			return result, true, nil
		}
		if !errors.Is(err, flerrors.ErrAwaitTimeout) {
			return SendResult{}, false, err
		}
		if p.stopping() && p.cfg.StopPolicy == StopAbandon {
			return SendResult{}, false, nil
		}
	}
}

// giveUp ends the run after an identifier has burned every attempt.
func (p *Producer) giveUp(send inflightSend, cause error) error {
	err := fmt.Errorf("%w: message %d failed %d times", flerrors.ErrAttemptsExhausted, send.id, send.attempt)
	if cause != nil {
		err = fmt.Errorf("%w: last error: %w", err, cause)
	}
	p.run.Stats().AddEngineFailure()
	p.log.Error("Giving up on message", err, logging.LogFields{
		"message_id": send.id,
		"attempts":   send.attempt,
	})
	return err
}

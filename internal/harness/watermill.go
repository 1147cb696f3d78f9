package harness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/ids"
	"github.com/streamhaus/floodline/internal/harness/logging"
	"github.com/streamhaus/floodline/transport"
)

// BrokerOptions tunes the sending side of a broker.
type BrokerOptions struct {
	// Classifier maps publish errors to send statuses. Nil means
	// DefaultClassifier.
	Classifier StatusClassifier
	// PublishRate caps outbound sends per second when positive. Sends
	// above the cap are not dropped; they resolve as throttled.
	PublishRate float64
	// PublishBurst is the burst allowance of the rate cap.
	PublishBurst int
	// BreakerEnabled guards every send session with a circuit breaker.
	BreakerEnabled bool
}

// WatermillBroker runs harness sessions over a watermill transport
// bound to one destination. All read sessions share a single
// subscription, so consumers on the same broker compete for
// deliveries the way members of one consumer group do.
type WatermillBroker struct {
	destination string
	transport   transport.Transport
	opts        BrokerOptions
	classify    StatusClassifier
	log         logging.Logger

	mu     sync.Mutex
	sub    *sharedSubscription
	closed bool
}

// sharedSubscription is the broker's one subscription, reference
// counted across read sessions and cancelled when the last one closes.
type sharedSubscription struct {
	ch     <-chan *message.Message
	cancel context.CancelFunc
	refs   int
}

func NewWatermillBroker(t transport.Transport, destination string, opts BrokerOptions, log logging.Logger) (*WatermillBroker, error) {
	if destination == "" {
		return nil, flerrors.ErrDestinationRequired
	}
	if t.Publisher == nil || t.Subscriber == nil {
		return nil, errors.New("floodline: transport must carry a publisher and a subscriber")
	}
	classify := opts.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	if log == nil {
		log = logging.Nop()
	}
	return &WatermillBroker{
		destination: destination,
		transport:   t,
		opts:        opts,
		classify:    classify,
		log:         log,
	}, nil
}

func (b *WatermillBroker) Destination() string { return b.destination }

// OpenSendSession hands out a send handle, decorated with the broker's
// rate cap and circuit breaker when configured.
func (b *WatermillBroker) OpenSendSession(ctx context.Context) (SendSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, flerrors.ErrSessionClosed
	}

	var session SendSession = &sendSession{
		publisher:   b.transport.Publisher,
		destination: b.destination,
		classify:    b.classify,
	}
	if b.opts.BreakerEnabled {
		session = NewBreakerSession(session, b.destination, b.log)
	}
	if b.opts.PublishRate > 0 {
		session = NewRateLimitedSession(session, b.opts.PublishRate, b.opts.PublishBurst)
	}
	return session, nil
}

// OpenReadSession hands out a read handle over the shared
// subscription, creating the subscription on first use.
func (b *WatermillBroker) OpenReadSession(ctx context.Context) (ReadSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, flerrors.ErrSessionClosed
	}

	if b.sub == nil {
		subCtx, cancel := context.WithCancel(ctx)
		ch, err := b.transport.Subscriber.Subscribe(subCtx, b.destination)
		if err != nil {
			cancel()
			return nil, err
		}
		b.sub = &sharedSubscription{ch: ch, cancel: cancel}
		b.log.Debug("Opened shared subscription", logging.LogFields{"destination": b.destination})
	}
	b.sub.refs++
	return &readSession{broker: b, ch: b.sub.ch}, nil
}

func (b *WatermillBroker) releaseReader() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return
	}
	b.sub.refs--
	if b.sub.refs <= 0 {
		b.sub.cancel()
		b.sub = nil
	}
}

// Close cancels the shared subscription and closes both transport
// halves. Sessions already handed out fail their next operation.
func (b *WatermillBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.sub != nil {
		b.sub.cancel()
		b.sub = nil
	}
	return errors.Join(
		b.transport.Publisher.Close(),
		b.transport.Subscriber.Close(),
	)
}

// sendSession publishes through the broker's shared publisher. Each
// send resolves its receipt off the calling goroutine, so a slow
// broker shows up as receipt latency rather than a blocked submit.
type sendSession struct {
	publisher   message.Publisher
	destination string
	classify    StatusClassifier
	closed      atomic.Bool
}

func (s *sendSession) Send(ctx context.Context, payload []byte) (Receipt, error) {
	if s.closed.Load() {
		return nil, flerrors.ErrSessionClosed
	}

	msg := message.NewMessage(ids.NewULID(), payload)
	if ctx != nil {
		msg.SetContext(ctx)
	}

	receipt := NewSendReceipt()
	go func() {
		err := s.publisher.Publish(s.destination, msg)
		receipt.Resolve(SendResult{Status: s.classify(err), Err: err})
	}()
	return receipt, nil
}

// Close marks the session unusable. The underlying publisher is shared
// and stays open until the broker itself closes.
func (s *sendSession) Close() error {
	s.closed.Store(true)
	return nil
}

// readSession draws deliveries from the broker's shared subscription.
type readSession struct {
	broker *WatermillBroker
	ch     <-chan *message.Message
	closed atomic.Bool
}

func (s *readSession) Read(ctx context.Context) (PendingRead, error) {
	if s.closed.Load() {
		return nil, flerrors.ErrSessionClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &channelRead{ch: s.ch, ctx: ctx}, nil
}

func (s *readSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.broker.releaseReader()
	return nil
}

// channelRead is a pending read backed directly by the subscription
// channel. A timed-out Await takes nothing from the channel, so an
// unresolved read never strands a delivery.
type channelRead struct {
	ch  <-chan *message.Message
	ctx context.Context
}

func (r *channelRead) Await(timeout time.Duration) (Delivery, error) {
	select {
	case msg, ok := <-r.ch:
		if !ok {
			return nil, flerrors.ErrSessionClosed
		}
		return &watermillDelivery{msg: msg}, nil
	case <-r.ctx.Done():
		return nil, r.ctx.Err()
	case <-time.After(timeout):
		return nil, flerrors.ErrAwaitTimeout
	}
}

// watermillDelivery adapts one watermill message to the Delivery
// contract.
type watermillDelivery struct {
	msg *message.Message
}

func (d *watermillDelivery) Payload() []byte { return d.msg.Payload }

func (d *watermillDelivery) Ack() error {
	if !d.msg.Ack() {
		return flerrors.ErrAckFailed
	}
	return nil
}

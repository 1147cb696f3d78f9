package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

func TestConsumerCountsDuplicatesAndAcks(t *testing.T) {
	first := envelopeDelivery(1, 16)
	second := envelopeDelivery(2, 16)
	redelivered := envelopeDelivery(1, 16)
	third := envelopeDelivery(3, 16)
	session := &fakeReadSession{deliveries: []Delivery{first, second, redelivered, third}}

	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{ReadTimeout: 20 * time.Millisecond},
		&fakeBroker{read: session}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eventually(t, 2*time.Second, func() bool { return run.Stats().Received() == 4 },
		"consumer never drained the deliveries")

	if err := consumer.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := consumer.Err(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if got := run.Stats().Duplicates(); got != 1 {
		t.Fatalf("duplicates = %d, want 1", got)
	}
	if got := run.Duplicates().Size(); got != 3 {
		t.Fatalf("distinct identifiers = %d, want 3", got)
	}
	for i, d := range []*testDelivery{first, second, redelivered, third} {
		if d.acks != 1 {
			t.Fatalf("delivery %d acked %d times, want 1", i, d.acks)
		}
	}
	if got := run.Stats().Snapshot().ReadLatency.SampleSize; got != 4 {
		t.Fatalf("read latency samples = %d, want 4", got)
	}
}

func TestConsumerStopsWhileIdle(t *testing.T) {
	session := &fakeReadSession{}
	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{ReadTimeout: 10 * time.Millisecond},
		&fakeBroker{read: session}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if err := consumer.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := consumer.Err(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if got := run.Stats().Received(); got != 0 {
		t.Fatalf("received = %d, want 0", got)
	}
	if !session.closed {
		t.Fatal("read session was not closed")
	}
}

func TestConsumerDecodeErrorIsFatal(t *testing.T) {
	malformed := &testDelivery{payload: []byte{0x01, 0x02, 0x03}}
	session := &fakeReadSession{deliveries: []Delivery{malformed}}
	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{ReadTimeout: 10 * time.Millisecond},
		&fakeBroker{read: session}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, consumer, time.Second)

	if err := consumer.Err(); err == nil {
		t.Fatal("expected a decode error")
	}
	if malformed.acks != 0 {
		t.Fatalf("malformed delivery acked %d times, want 0", malformed.acks)
	}
	if got := run.Stats().Received(); got != 0 {
		t.Fatalf("received = %d, want 0", got)
	}
	if got := run.Stats().ReadErrors(); got != 1 {
		t.Fatalf("read errors = %d, want 1", got)
	}
	if got := run.Stats().EngineFailures(); got != 1 {
		t.Fatalf("engine failures = %d, want 1", got)
	}
}

func TestConsumerAckErrorIsFatal(t *testing.T) {
	delivery := envelopeDelivery(7, 8)
	delivery.ackErr = flerrors.ErrAckFailed
	session := &fakeReadSession{deliveries: []Delivery{delivery}}
	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{ReadTimeout: 10 * time.Millisecond},
		&fakeBroker{read: session}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, consumer, time.Second)

	if err := consumer.Err(); !errors.Is(err, flerrors.ErrAckFailed) {
		t.Fatalf("err = %v, want ErrAckFailed", err)
	}
	if got := run.Stats().Received(); got != 0 {
		t.Fatalf("received = %d, want 0 (delivery was never acknowledged)", got)
	}
	if got := run.Stats().ReadErrors(); got != 1 {
		t.Fatalf("read errors = %d, want 1", got)
	}
	if got := run.Duplicates().Size(); got != 1 {
		t.Fatalf("distinct identifiers = %d, want 1", got)
	}
}

func TestConsumerReadErrorIsFatal(t *testing.T) {
	readErr := errors.New("subscriber closed")
	session := &fakeReadSession{readErr: readErr}
	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{}, &fakeBroker{read: session}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, consumer, time.Second)

	if err := consumer.Err(); !errors.Is(err, readErr) {
		t.Fatalf("err = %v, want read error", err)
	}
	if got := run.Stats().EngineFailures(); got != 1 {
		t.Fatalf("engine failures = %d, want 1", got)
	}
}

func TestConsumerOpenSessionErrorIsFatal(t *testing.T) {
	openErr := errors.New("broker unreachable")
	run := NewRunContext(nil)
	consumer, err := NewConsumer(ConsumerConfig{}, &fakeBroker{openReadErr: openErr}, run, logging.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, consumer, time.Second)

	if err := consumer.Err(); !errors.Is(err, openErr) {
		t.Fatalf("err = %v, want open error", err)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	run := NewRunContext(nil)
	broker := &fakeBroker{read: &fakeReadSession{}}

	if _, err := NewConsumer(ConsumerConfig{}, nil, run, logging.Nop()); !errors.Is(err, flerrors.ErrBrokerRequired) {
		t.Fatalf("nil broker: err = %v, want ErrBrokerRequired", err)
	}
	if _, err := NewConsumer(ConsumerConfig{}, broker, nil, logging.Nop()); !errors.Is(err, flerrors.ErrRunContextRequired) {
		t.Fatalf("nil run context: err = %v, want ErrRunContextRequired", err)
	}
	if _, err := NewConsumer(ConsumerConfig{}, broker, run, nil); !errors.Is(err, flerrors.ErrLoggerRequired) {
		t.Fatalf("nil logger: err = %v, want ErrLoggerRequired", err)
	}
}

package harness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/streamhaus/floodline/internal/harness/envelope"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

// fakeSendSession scripts broker behavior for producer tests. By
// default every send resolves ok immediately; an outcome function
// scripts per-identifier results, and manual mode leaves receipts
// pending until resolveOldest is called.
type fakeSendSession struct {
	mu       sync.Mutex
	outcome  func(id uint64, attempt int) SendResult
	manual   bool
	sendErr  error
	closed   bool
	sends    []sendRecord
	attempts map[uint64]int
	pending  []*SendReceipt

	unresolvedMax int
}

type sendRecord struct {
	id      uint64
	attempt int
}

func newFakeSendSession() *fakeSendSession {
	return &fakeSendSession{attempts: make(map[uint64]int)}
}

func (s *fakeSendSession) Send(ctx context.Context, payload []byte) (Receipt, error) {
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	env, err := envelope.Decode(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[env.ID]++
	attempt := s.attempts[env.ID]
	s.sends = append(s.sends, sendRecord{id: env.ID, attempt: attempt})

	receipt := NewSendReceipt()
	switch {
	case s.manual:
		s.pending = append(s.pending, receipt)
		if len(s.pending) > s.unresolvedMax {
			s.unresolvedMax = len(s.pending)
		}
	case s.outcome != nil:
		receipt.Resolve(s.outcome(env.ID, attempt))
	default:
		receipt.Resolve(SendResult{Status: SendOK})
	}
	return receipt, nil
}

func (s *fakeSendSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSendSession) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func (s *fakeSendSession) sentRecords() []sendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sendRecord(nil), s.sends...)
}

// resolveOldest resolves the oldest pending receipt and reports
// whether there was one.
func (s *fakeSendSession) resolveOldest(result SendResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return false
	}
	receipt := s.pending[0]
	s.pending = s.pending[1:]
	receipt.Resolve(result)
	return true
}

func (s *fakeSendSession) unresolved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *fakeSendSession) maxUnresolved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unresolvedMax
}

// fakeReadSession hands out scripted deliveries in order. Once the
// queue is empty every read stays pending forever.
type fakeReadSession struct {
	mu         sync.Mutex
	deliveries []Delivery
	readErr    error
	closed     bool
}

func (s *fakeReadSession) Read(ctx context.Context) (PendingRead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	future := NewReadFuture()
	if len(s.deliveries) > 0 {
		next := s.deliveries[0]
		s.deliveries = s.deliveries[1:]
		future.Resolve(next, nil)
	}
	return future, nil
}

func (s *fakeReadSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeBroker struct {
	send        SendSession
	read        ReadSession
	openSendErr error
	openReadErr error
}

func (b *fakeBroker) OpenSendSession(ctx context.Context) (SendSession, error) {
	if b.openSendErr != nil {
		return nil, b.openSendErr
	}
	return b.send, nil
}

func (b *fakeBroker) OpenReadSession(ctx context.Context) (ReadSession, error) {
	if b.openReadErr != nil {
		return nil, b.openReadErr
	}
	return b.read, nil
}

func (b *fakeBroker) Close() error { return nil }

// testDelivery is a delivery with ack accounting. The consumer loop is
// the only writer while running; tests read after Done.
type testDelivery struct {
	payload []byte
	ackErr  error
	acks    int
}

func (d *testDelivery) Payload() []byte { return d.payload }

func (d *testDelivery) Ack() error {
	d.acks++
	return d.ackErr
}

func envelopeDelivery(id uint64, payloadSize int) *testDelivery {
	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	return &testDelivery{payload: envelope.Envelope{ID: id, Payload: payload}.Encode()}
}

// captureLogger records log messages for assertions.
type captureLogger struct {
	mu     sync.Mutex
	errors []string
	infos  []string
}

func (l *captureLogger) With(fields logging.LogFields) logging.Logger { return l }

func (l *captureLogger) Debug(msg string, fields logging.LogFields) {}

func (l *captureLogger) Info(msg string, fields logging.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *captureLogger) Error(msg string, err error, fields logging.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *captureLogger) Trace(msg string, fields logging.LogFields) {}

func (l *captureLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func waitDone(t *testing.T, d Daemon, timeout time.Duration) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(timeout):
		t.Fatal("daemon did not finish in time")
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

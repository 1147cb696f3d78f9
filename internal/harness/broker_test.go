package harness

import (
	"errors"
	"sync"
	"testing"
	"time"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
)

func TestSendReceiptResolvesOnce(t *testing.T) {
	receipt := NewSendReceipt()
	receipt.Resolve(SendResult{Status: SendThrottled, Err: flerrors.ErrThrottled})
	receipt.Resolve(SendResult{Status: SendOK})

	result, err := receipt.Await(time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if result.Status != SendThrottled {
		t.Fatalf("expected the first resolution to win, got %v", result.Status)
	}
	if !errors.Is(result.Err, flerrors.ErrThrottled) {
		t.Fatalf("expected throttle detail error, got %v", result.Err)
	}
}

func TestSendReceiptAwaitTimesOutAndStaysPending(t *testing.T) {
	receipt := NewSendReceipt()

	if _, err := receipt.Await(10 * time.Millisecond); !errors.Is(err, flerrors.ErrAwaitTimeout) {
		t.Fatalf("expected await timeout, got %v", err)
	}

	receipt.Resolve(SendResult{Status: SendOK})
	result, err := receipt.Await(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("await after resolve failed: %v", err)
	}
	if result.Status != SendOK {
		t.Fatalf("expected ok after late resolve, got %v", result.Status)
	}
}

func TestSendReceiptWakesConcurrentWaiters(t *testing.T) {
	receipt := NewSendReceipt()

	var wg sync.WaitGroup
	results := make([]SendResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = receipt.Await(time.Second)
		}(i)
	}

	receipt.Resolve(SendResult{Status: SendFailed})
	wg.Wait()

	for i, r := range results {
		if r.Status != SendFailed {
			t.Fatalf("waiter %d saw %v, expected failed", i, r.Status)
		}
	}
}

func TestReadFutureResolve(t *testing.T) {
	future := NewReadFuture()

	if _, err := future.Await(10 * time.Millisecond); !errors.Is(err, flerrors.ErrAwaitTimeout) {
		t.Fatalf("expected await timeout, got %v", err)
	}

	future.Resolve(stubDelivery{payload: []byte("abc")}, nil)
	delivery, err := future.Await(time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if string(delivery.Payload()) != "abc" {
		t.Fatalf("unexpected payload %q", delivery.Payload())
	}
}

func TestReadFutureCarriesError(t *testing.T) {
	future := NewReadFuture()
	boom := errors.New("subscription torn down")
	future.Resolve(nil, boom)

	if _, err := future.Await(time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected resolve error, got %v", err)
	}
}

func TestSendStatusString(t *testing.T) {
	cases := map[SendStatus]string{
		SendOK:         "ok",
		SendThrottled:  "throttled",
		SendFailed:     "failed",
		SendStatus(99): "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: expected %q, got %q", status, want, got)
		}
	}
}

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want SendStatus
	}{
		{"nil is ok", nil, SendOK},
		{"throttle", flerrors.ErrThrottled, SendThrottled},
		{"wrapped throttle", errors.Join(errors.New("ctx"), flerrors.ErrThrottled), SendThrottled},
		{"breaker open", flerrors.ErrBreakerOpen, SendThrottled},
		{"anything else", errors.New("broken pipe"), SendFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultClassifier(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// stubDelivery satisfies Delivery for future tests.
type stubDelivery struct {
	payload []byte
	ackErr  error
	acked   *int
}

func (d stubDelivery) Payload() []byte { return d.payload }

func (d stubDelivery) Ack() error {
	if d.acked != nil {
		*d.acked++
	}
	return d.ackErr
}

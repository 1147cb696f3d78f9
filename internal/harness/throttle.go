package harness

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
	"github.com/streamhaus/floodline/internal/harness/logging"
)

const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 5 * time.Second
)

// NewRateLimitedSession caps a send session at r messages per second
// with the given burst allowance. Sends above the cap are not dropped;
// they come back as throttled receipts so the producer retry path is
// exercised the same way a broker-side throttle would.
func NewRateLimitedSession(inner SendSession, r float64, burst int) SendSession {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedSession{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

type rateLimitedSession struct {
	inner   SendSession
	limiter *rate.Limiter
}

func (s *rateLimitedSession) Send(ctx context.Context, payload []byte) (Receipt, error) {
	if !s.limiter.Allow() {
		return throttledReceipt(flerrors.ErrThrottled), nil
	}
	return s.inner.Send(ctx, payload)
}

func (s *rateLimitedSession) Close() error {
	return s.inner.Close()
}

// NewBreakerSession guards a send session with a circuit breaker.
// While the breaker is open every send resolves as throttled with
// ErrBreakerOpen; once it half-opens, probe sends flow through again.
// Outcomes are reported to the breaker when the receipt is awaited.
func NewBreakerSession(inner SendSession, name string, log logging.Logger) SendSession {
	if log == nil {
		log = logging.Nop()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("Circuit breaker state changed", logging.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
	return &breakerSession{
		inner:   inner,
		breaker: gobreaker.NewTwoStepCircuitBreaker(settings),
	}
}

type breakerSession struct {
	inner   SendSession
	breaker *gobreaker.TwoStepCircuitBreaker
}

func (s *breakerSession) Send(ctx context.Context, payload []byte) (Receipt, error) {
	done, err := s.breaker.Allow()
	if err != nil {
		return throttledReceipt(flerrors.ErrBreakerOpen), nil
	}
	receipt, err := s.inner.Send(ctx, payload)
	if err != nil {
		done(false)
		return nil, err
	}
	return &breakerReceipt{inner: receipt, done: done}, nil
}

func (s *breakerSession) Close() error {
	return s.inner.Close()
}

// breakerReceipt reports the resolved outcome back to the breaker the
// first time Await observes it. A receipt abandoned without a
// successful Await reports nothing, which the breaker tolerates.
type breakerReceipt struct {
	inner Receipt
	done  func(success bool)
	once  sync.Once
}

func (r *breakerReceipt) Await(timeout time.Duration) (SendResult, error) {
	result, err := r.inner.Await(timeout)
	if err != nil {
		return result, err
	}
	r.once.Do(func() {
		r.done(result.Status == SendOK)
	})
	return result, nil
}

func throttledReceipt(cause error) Receipt {
	receipt := NewSendReceipt()
	receipt.Resolve(SendResult{Status: SendThrottled, Err: cause})
	return receipt
}

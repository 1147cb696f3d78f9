package harness

import (
	"errors"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
)

// StatusClassifier maps a publish error to the send status surfaced on
// the receipt. Brokers call it with the raw backend error; nil means
// the send was accepted.
type StatusClassifier func(err error) SendStatus

// DefaultClassifier treats throttle and breaker rejections as
// backpressure the engines may retry against; everything else is a
// plain failure.
func DefaultClassifier(err error) SendStatus {
	switch {
	case err == nil:
		return SendOK
	case errors.Is(err, flerrors.ErrThrottled), errors.Is(err, flerrors.ErrBreakerOpen):
		return SendThrottled
	default:
		return SendFailed
	}
}

package errors

import sterrors "errors"

var (
	ErrThrottled           = sterrors.New("floodline: send throttled by broker")
	ErrBreakerOpen         = sterrors.New("floodline: send rejected, circuit breaker open")
	ErrAwaitTimeout        = sterrors.New("floodline: wait timed out")
	ErrAttemptsExhausted   = sterrors.New("floodline: publish attempts exhausted")
	ErrSessionClosed       = sterrors.New("floodline: session is closed")
	ErrAckFailed           = sterrors.New("floodline: delivery could not be acknowledged")
	ErrAlreadyStarted      = sterrors.New("floodline: daemon already started")
	ErrStopTimeout         = sterrors.New("floodline: shutdown wait timed out")
	ErrDestinationRequired = sterrors.New("floodline: destination is required")
	ErrRunContextRequired  = sterrors.New("floodline: run context is required")
	ErrBrokerRequired      = sterrors.New("floodline: broker is required")
	ErrLoggerRequired      = sterrors.New("floodline: logger is required")
)

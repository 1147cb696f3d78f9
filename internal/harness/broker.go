// Package harness contains the load generation engines and the broker
// session contracts they run against. Producers and consumers are
// daemons sharing a single RunContext; the Broker abstraction hides
// which messaging backend a run is exercising.
package harness

import (
	"context"
	"sync"
	"time"

	flerrors "github.com/streamhaus/floodline/internal/harness/errors"
)

// SendStatus is the resolved outcome of one asynchronous send.
type SendStatus int

const (
	SendOK SendStatus = iota
	SendThrottled
	SendFailed
)

func (s SendStatus) String() string {
	switch s {
	case SendOK:
		return "ok"
	case SendThrottled:
		return "throttled"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SendResult carries the resolved status of a send together with the
// broker error that produced it, if any. Err is detail for logging;
// the engines branch on Status alone.
type SendResult struct {
	Status SendStatus
	Err    error
}

// Receipt resolves to the outcome of one submitted send. Await blocks
// until the broker answers or the timeout elapses; a timeout returns
// ErrAwaitTimeout and leaves the send pending, so Await may be called
// again on the same receipt.
type Receipt interface {
	Await(timeout time.Duration) (SendResult, error)
}

// Delivery is one message handed to a consumer. The payload is the raw
// envelope bytes as published. Ack must be called exactly once after
// the delivery has been processed.
type Delivery interface {
	Payload() []byte
	Ack() error
}

// PendingRead resolves to a delivery. Await blocks until a message
// arrives or the timeout elapses; a timeout returns ErrAwaitTimeout
// and the read stays outstanding, so Await may be called again.
type PendingRead interface {
	Await(timeout time.Duration) (Delivery, error)
}

// SendSession is one producer's handle to the broker. Send submits the
// payload and returns immediately; the outcome arrives through the
// receipt. Implementations must be safe for use by a single engine
// goroutine and must reject sends after Close with ErrSessionClosed.
type SendSession interface {
	Send(ctx context.Context, payload []byte) (Receipt, error)
	Close() error
}

// ReadSession is one consumer's handle to the broker. Read issues one
// asynchronous read; the delivery arrives through the pending read.
type ReadSession interface {
	Read(ctx context.Context) (PendingRead, error)
	Close() error
}

// Broker opens producer and consumer sessions against one destination.
// Each engine opens its own session at start and closes it when its
// loop exits; the broker itself is closed by whoever built it.
type Broker interface {
	OpenSendSession(ctx context.Context) (SendSession, error)
	OpenReadSession(ctx context.Context) (ReadSession, error)
	Close() error
}

// SendReceipt is the canonical Receipt implementation. The broker side
// resolves it exactly once; any number of Await calls observe the same
// result afterwards.
type SendReceipt struct {
	done   chan struct{}
	once   sync.Once
	result SendResult
}

func NewSendReceipt() *SendReceipt {
	return &SendReceipt{done: make(chan struct{})}
}

// Resolve records the outcome and wakes every waiter. Calls after the
// first are ignored.
func (r *SendReceipt) Resolve(result SendResult) {
	r.once.Do(func() {
		r.result = result
		close(r.done)
	})
}

func (r *SendReceipt) Await(timeout time.Duration) (SendResult, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-time.After(timeout):
		return SendResult{}, flerrors.ErrAwaitTimeout
	}
}

// ReadFuture is the canonical PendingRead implementation for brokers
// that resolve reads out of band.
type ReadFuture struct {
	done     chan struct{}
	once     sync.Once
	delivery Delivery
	err      error
}

func NewReadFuture() *ReadFuture {
	return &ReadFuture{done: make(chan struct{})}
}

// Resolve hands the future its delivery or terminal error. Calls after
// the first are ignored.
func (f *ReadFuture) Resolve(delivery Delivery, err error) {
	f.once.Do(func() {
		f.delivery = delivery
		f.err = err
		close(f.done)
	})
}

func (f *ReadFuture) Await(timeout time.Duration) (Delivery, error) {
	select {
	case <-f.done:
		return f.delivery, f.err
	case <-time.After(timeout):
		return nil, flerrors.ErrAwaitTimeout
	}
}

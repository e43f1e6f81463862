// Package transport hides where raw messages come from. Workers only see a
// Receiver whose Receive blocks for at most a bounded timeout.
package transport

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when no message arrived within the receive
	// timeout. It is not a failure; callers use it to re-check cancellation.
	ErrTimeout = errors.New("transport: receive timeout")
	// ErrClosed is returned once the source is exhausted or the receiver
	// was closed.
	ErrClosed = errors.New("transport: receiver closed")
)

type Receiver interface {
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens one receiver per worker.
type Dialer func() (Receiver, error)

// ChanReceiver reads from an in-process channel, e.g. the simulator.
type ChanReceiver struct {
	in      <-chan []byte
	timeout time.Duration
	timer   *time.Timer
}

func NewChanReceiver(in <-chan []byte, timeout time.Duration) *ChanReceiver {
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	t := time.NewTimer(timeout)
	if !t.Stop() {
		<-t.C
	}
	return &ChanReceiver{in: in, timeout: timeout, timer: t}
}

func (r *ChanReceiver) Receive() ([]byte, error) {
	select {
	case msg, ok := <-r.in:
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	default:
	}
	r.timer.Reset(r.timeout)
	select {
	case msg, ok := <-r.in:
		if !r.timer.Stop() {
			<-r.timer.C
		}
		if !ok {
			return nil, ErrClosed
		}
		return msg, nil
	case <-r.timer.C:
		return nil, ErrTimeout
	}
}

// Close is a no-op; the producer owns the channel.
func (r *ChanReceiver) Close() error {
	return nil
}

// ChanDialer hands every worker its own receiver over the shared channel,
// which gives the same fair-queue semantics as a PULL socket.
func ChanDialer(in <-chan []byte, timeout time.Duration) Dialer {
	return func() (Receiver, error) {
		return NewChanReceiver(in, timeout), nil
	}
}

package transport

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
)

// PullReceiver is a ZeroMQ PULL socket connected to the detector stream.
// A socket must only be used from the goroutine that owns it.
type PullReceiver struct {
	sock *zmq4.Socket
}

func NewPullReceiver(endpoint string, timeout time.Duration) (*PullReceiver, error) {
	sock, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, fmt.Errorf("create pull socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("set linger: %w", err)
	}
	if err := sock.SetRcvtimeo(timeout); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("set receive timeout: %w", err)
	}
	if err := sock.Connect(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	return &PullReceiver{sock: sock}, nil
}

func (r *PullReceiver) Receive() ([]byte, error) {
	msg, err := r.sock.RecvBytes(0)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		if zmq4.AsErrno(err) == zmq4.ETERM {
			return nil, ErrClosed
		}
		return nil, err
	}
	return msg, nil
}

func (r *PullReceiver) Close() error {
	return r.sock.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, syscall.EAGAIN) {
		return true
	}
	return zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN)
}

func PullDialer(endpoint string, timeout time.Duration) Dialer {
	return func() (Receiver, error) {
		return NewPullReceiver(endpoint, timeout)
	}
}

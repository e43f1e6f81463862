package transport

// Recorder stores a copy of every received message.
type Recorder interface {
	Record(payload []byte) error
}

// Recording wraps a receiver and passes every received message to rec.
// Record failures are reported through onErr and never stop the stream.
type Recording struct {
	Receiver
	rec   Recorder
	onErr func(error)
}

func NewRecording(r Receiver, rec Recorder, onErr func(error)) *Recording {
	return &Recording{Receiver: r, rec: rec, onErr: onErr}
}

func (r *Recording) Receive() ([]byte, error) {
	msg, err := r.Receiver.Receive()
	if err != nil {
		return nil, err
	}
	if err := r.rec.Record(msg); err != nil && r.onErr != nil {
		r.onErr(err)
	}
	return msg, nil
}

// RecordingDialer decorates every receiver d opens.
func RecordingDialer(d Dialer, rec Recorder, onErr func(error)) Dialer {
	return func() (Receiver, error) {
		r, err := d()
		if err != nil {
			return nil, err
		}
		return NewRecording(r, rec, onErr), nil
	}
}

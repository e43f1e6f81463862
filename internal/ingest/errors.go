package ingest

import "fmt"

// DecodeError reports a malformed message or tag payload. It always
// scopes to the whole message.
type DecodeError struct {
	Tag    uint64
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	where := "message"
	switch {
	case e.Tag != 0:
		where = fmt.Sprintf("tag %d", e.Tag)
	case e.Field != "":
		where = fmt.Sprintf("field %q", e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", where, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", where, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

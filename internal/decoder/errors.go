package decoder

import (
	"errors"
	"fmt"
)

var (
	ErrNotEnoughTopics       = errors.New("not enough topics")
	ErrMalformedData         = errors.New("malformed data")
	ErrUnknownEventSignature = errors.New("unknown event signature")
	ErrUnknownContract       = errors.New("unknown contract")
)

// Error is a per-log decode failure. Kind is one of the Err* sentinels.
type Error struct {
	Kind     error
	Contract string
	Event    string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Contract != "" {
		msg = e.Contract + ": " + msg
	}
	if e.Event != "" {
		msg = fmt.Sprintf("%s (event %s)", msg, e.Event)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf maps an error to a short label for logs and metrics.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotEnoughTopics):
		return "not_enough_topics"
	case errors.Is(err, ErrMalformedData):
		return "malformed_data"
	case errors.Is(err, ErrUnknownEventSignature):
		return "unknown_event_signature"
	case errors.Is(err, ErrUnknownContract):
		return "unknown_contract"
	default:
		return "other"
	}
}

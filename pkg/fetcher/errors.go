package fetcher

import (
	"errors"
	"fmt"
)

// ErrInvalidUTF8 is the cause of a DecodeFailure.
var ErrInvalidUTF8 = errors.New("fetcher: body is not valid UTF-8")

// Kind classifies why a fetch failed.
type Kind int

const (
	KindConnectFailure Kind = iota + 1
	KindTimeout
	KindInterrupted
	KindDecodeFailure
	KindCancelled
	KindBadStatus
	KindReadFailure
)

func (k Kind) String() string {
	switch k {
	case KindConnectFailure:
		return "connect_failure"
	case KindTimeout:
		return "timeout"
	case KindInterrupted:
		return "interrupted"
	case KindDecodeFailure:
		return "decode_failure"
	case KindCancelled:
		return "cancelled"
	case KindBadStatus:
		return "bad_status"
	case KindReadFailure:
		return "read_failure"
	default:
		return "unknown"
	}
}

// FetchError is returned by every failed fetch.
type FetchError struct {
	Kind   Kind
	URI    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URI, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URI, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// KindOf returns the kind of a FetchError, or zero when err is not one.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

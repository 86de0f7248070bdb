package drain

import (
	"errors"
	"fmt"
)

// ErrBodyTooLarge is reported when a source yields more bytes than the copier allows.
var ErrBodyTooLarge = errors.New("drain: body exceeds size limit")

// IOFailure reports that a byte source could not be read to completion.
// Read holds how many bytes arrived before the failure; those bytes are discarded.
type IOFailure struct {
	Read int64
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("drain: read failed after %d bytes: %v", e.Read, e.Err)
}

func (e *IOFailure) Unwrap() error { return e.Err }

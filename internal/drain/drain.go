package drain

import (
	"io"
)

// Copier drains readable sources into memory.
type Copier struct {
	// MaxBytes caps the drained size; zero or negative means unlimited.
	MaxBytes int64
	pool     *BufferPool
}

var defaultCopier = NewCopier(0, nil)

// NewCopier builds a copier with an optional size cap and buffer pool.
func NewCopier(maxBytes int64, pool *BufferPool) *Copier {
	if pool == nil {
		pool = NewBufferPool(0)
	}
	return &Copier{MaxBytes: maxBytes, pool: pool}
}

// CopyAll drains source with the default unlimited copier.
func CopyAll(source io.ReadCloser) ([]byte, error) {
	return defaultCopier.CopyAll(source)
}

// CopyAll reads source until EOF and returns every byte in order.
// The source is closed on every path. On failure no bytes are returned.
func (c *Copier) CopyAll(source io.ReadCloser) (out []byte, err error) {
	if source == nil {
		return []byte{}, nil
	}
	defer func() {
		cerr := source.Close()
		if err == nil && cerr != nil {
			out, err = nil, &IOFailure{Read: int64(len(out)), Err: cerr}
		}
	}()

	buf := c.pool.Get()
	defer c.pool.Put(buf)

	var r io.Reader = source
	if c.MaxBytes > 0 {
		// one extra byte tells an exact-size body apart from an oversized one
		r = io.LimitReader(source, c.MaxBytes+1)
	}

	n, err := buf.ReadFrom(r)
	if err != nil {
		return nil, &IOFailure{Read: n, Err: err}
	}
	if c.MaxBytes > 0 && n > c.MaxBytes {
		return nil, &IOFailure{Read: n, Err: ErrBodyTooLarge}
	}

	// the pooled buffer is reused, so hand the caller its own copy
	out = make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

package fetcher

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidDescriptor is returned when a descriptor cannot be built from its inputs.
var ErrInvalidDescriptor = errors.New("fetcher: invalid request descriptor")

// MaxTimeoutSeconds is the largest timeout a time.Duration can hold.
const MaxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Descriptor describes one GET request. It is immutable once built.
type Descriptor struct {
	uri     string
	timeout time.Duration
	headers map[string]string
}

// NewDescriptor validates uri and timeoutSeconds and builds a descriptor.
func NewDescriptor(uri string, timeoutSeconds int) (Descriptor, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Descriptor{}, fmt.Errorf("%w: uri is empty", ErrInvalidDescriptor)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: parse uri: %v", ErrInvalidDescriptor, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Descriptor{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidDescriptor, parsed.Scheme)
	}
	if parsed.Host == "" {
		return Descriptor{}, fmt.Errorf("%w: uri %q has no host", ErrInvalidDescriptor, uri)
	}
	if timeoutSeconds <= 0 {
		return Descriptor{}, fmt.Errorf("%w: timeout must be positive seconds, got %d", ErrInvalidDescriptor, timeoutSeconds)
	}
	if int64(timeoutSeconds) > MaxTimeoutSeconds {
		return Descriptor{}, fmt.Errorf("%w: timeout %d seconds exceeds %d", ErrInvalidDescriptor, timeoutSeconds, MaxTimeoutSeconds)
	}
	return Descriptor{
		uri:     uri,
		timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// WithHeaders returns a copy of d that sends the given request headers.
func (d Descriptor) WithHeaders(headers map[string]string) Descriptor {
	if len(headers) == 0 {
		d.headers = nil
		return d
	}
	d.headers = maps.Clone(headers)
	return d
}

func (d Descriptor) URI() string                { return d.uri }
func (d Descriptor) Method() string             { return http.MethodGet }
func (d Descriptor) Timeout() time.Duration     { return d.timeout }
func (d Descriptor) TimeoutSeconds() int        { return int(d.timeout / time.Second) }
func (d Descriptor) Headers() map[string]string { return maps.Clone(d.headers) }

func (d Descriptor) valid() bool { return d.uri != "" && d.timeout > 0 }

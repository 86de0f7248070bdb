package httpclient

import (
	"context"
	"io"
)

// Response is a minimal buffered HTTP response contract.
type Response interface {
	Body() []byte
	StatusCode() int
}

// StreamResponse is an HTTP response whose body has not been read yet.
// The caller owns Body and must close it.
type StreamResponse interface {
	Body() io.ReadCloser
	StatusCode() int
}

// Client abstracts HTTP calls so callers can inject mocks or different transports.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// StreamClient issues GET requests and hands back the unread body stream.
type StreamClient interface {
	GetStream(ctx context.Context, url string, headers map[string]string) (StreamResponse, error)
}

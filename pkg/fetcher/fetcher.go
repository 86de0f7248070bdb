// Package fetcher issues GET requests and drains their bodies into text.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/plain-dev/bodydrain/internal/drain"
	"github.com/plain-dev/bodydrain/pkg/httpclient"
)

// TimeoutScope selects what the descriptor timeout bounds.
type TimeoutScope string

const (
	// ScopeConnect bounds connection establishment only.
	ScopeConnect TimeoutScope = "connect"
	// ScopeTotal bounds the whole exchange including the body drain.
	ScopeTotal TimeoutScope = "total"
)

// ParseTimeoutScope accepts "connect" or "total" (case-insensitive); empty means total.
func ParseTimeoutScope(s string) (TimeoutScope, error) {
	switch TimeoutScope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeTotal:
		return ScopeTotal, nil
	case ScopeConnect:
		return ScopeConnect, nil
	default:
		return "", fmt.Errorf("unsupported timeout scope %q", s)
	}
}

// Mode tells observers which path a fetch took.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// OutcomeOK is reported to observers for successful fetches.
const OutcomeOK = "ok"

// Observer receives one call per finished fetch.
type Observer interface {
	ObserveFetch(mode Mode, outcome string, elapsed time.Duration, bytes int)
}

// transport connections may legitimately take up to the descriptor timeout;
// the per-request bound is enforced by the fetcher, not the dialer.
const clientConnectCeiling = 10 * time.Minute

// Fetcher performs blocking and non-blocking GETs. It holds no per-call state,
// so one Fetcher can serve any number of concurrent calls.
type Fetcher struct {
	client   httpclient.StreamClient
	copier   *drain.Copier
	scope    TimeoutScope
	sem      *semaphore.Weighted
	observer Observer

	// checkStatus turns non-2xx responses into BadStatus errors.
	checkStatus bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithCopier replaces the default unlimited copier.
func WithCopier(c *drain.Copier) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.copier = c
		}
	}
}

// WithTimeoutScope sets what the descriptor timeout bounds.
func WithTimeoutScope(scope TimeoutScope) Option {
	return func(f *Fetcher) {
		if scope == ScopeConnect || scope == ScopeTotal {
			f.scope = scope
		}
	}
}

// WithMaxInFlight caps how many async fetches run at once.
func WithMaxInFlight(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithStatusCheck fails non-2xx responses with a BadStatus error. Without it
// the drained body is returned whatever the status.
func WithStatusCheck() Option {
	return func(f *Fetcher) { f.checkStatus = true }
}

// WithObserver registers a metrics observer.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// New builds a Fetcher. A nil client selects a resty-backed default.
func New(client httpclient.StreamClient, opts ...Option) *Fetcher {
	if client == nil {
		client = httpclient.NewRestyClientWithOptions(httpclient.Options{ConnectTimeout: clientConnectCeiling})
	}
	f := &Fetcher{
		client: client,
		copier: drain.NewCopier(0, nil),
		scope:  ScopeTotal,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Scope reports the configured timeout scope.
func (f *Fetcher) Scope() TimeoutScope { return f.scope }

// FetchSync sends the request on the caller's goroutine and returns the fully
// drained body as text.
func (f *Fetcher) FetchSync(ctx context.Context, d Descriptor) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return f.run(ctx, d, ModeSync, nil)
}

// FetchAsync starts the request on a background goroutine and returns a handle
// that resolves once the body is fully drained or the fetch fails.
func (f *Fetcher) FetchAsync(ctx context.Context, d Descriptor) *Pending {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p := newPending(d.URI(), cancel)

	go func() {
		defer cancel()
		if f.sem != nil {
			if err := f.sem.Acquire(runCtx, 1); err != nil {
				p.resolve("", &FetchError{
					Kind: classify(runCtx, nil, &p.cancelRequested, err, KindInterrupted),
					URI:  d.URI(),
					Err:  err,
				})
				return
			}
			defer f.sem.Release(1)
		}
		text, err := f.run(runCtx, d, ModeAsync, &p.cancelRequested)
		p.resolve(text, err)
	}()

	return p
}

func (f *Fetcher) run(ctx context.Context, d Descriptor, mode Mode, cancelled *atomic.Bool) (string, error) {
	start := time.Now()
	text, err := f.fetch(ctx, d, cancelled)
	if f.observer != nil {
		outcome := OutcomeOK
		if err != nil {
			outcome = KindOf(err).String()
		}
		f.observer.ObserveFetch(mode, outcome, time.Since(start), len(text))
	}
	return text, err
}

func (f *Fetcher) fetch(ctx context.Context, d Descriptor, cancelled *atomic.Bool) (string, error) {
	if !d.valid() {
		return "", &FetchError{Kind: KindConnectFailure, URI: d.URI(), Err: ErrInvalidDescriptor}
	}
	if err := ctx.Err(); err != nil {
		return "", &FetchError{Kind: classify(ctx, nil, cancelled, err, KindInterrupted), URI: d.uri, Err: err}
	}

	opCtx, guard, cancel := f.bound(ctx, d.timeout)
	defer cancel()

	resp, err := f.client.GetStream(opCtx, d.uri, d.headers)
	if err != nil {
		return "", &FetchError{Kind: classify(opCtx, guard, cancelled, err, KindConnectFailure), URI: d.uri, Err: err}
	}

	body, err := f.copier.CopyAll(resp.Body())
	if err != nil {
		return "", &FetchError{
			Kind:   classify(opCtx, guard, cancelled, err, KindReadFailure),
			URI:    d.uri,
			Status: resp.StatusCode(),
			Err:    err,
		}
	}

	if status := resp.StatusCode(); f.checkStatus && (status < 200 || status > 299) {
		return "", &FetchError{
			Kind:   KindBadStatus,
			URI:    d.uri,
			Status: status,
			Err:    fmt.Errorf("unexpected status, body: %s", snippet(body)),
		}
	}

	if !utf8.Valid(body) {
		return "", &FetchError{Kind: KindDecodeFailure, URI: d.uri, Status: resp.StatusCode(), Err: ErrInvalidUTF8}
	}
	return string(body), nil
}

// bound applies the descriptor timeout according to the fetcher scope.
func (f *Fetcher) bound(ctx context.Context, timeout time.Duration) (context.Context, *connectGuard, context.CancelFunc) {
	if f.scope == ScopeConnect {
		return withConnectGuard(ctx, timeout)
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	return opCtx, nil, cancel
}

// connectGuard cancels a request that has not obtained a connection in time.
type connectGuard struct {
	timer *time.Timer
	fired atomic.Bool
}

func withConnectGuard(ctx context.Context, timeout time.Duration) (context.Context, *connectGuard, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	g := &connectGuard{}
	g.timer = time.AfterFunc(timeout, func() {
		g.fired.Store(true)
		cancel()
	})
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { g.timer.Stop() },
	}
	return httptrace.WithClientTrace(ctx, trace), g, func() {
		g.timer.Stop()
		cancel()
	}
}

// classify maps a transport or drain error onto a Kind.
func classify(ctx context.Context, g *connectGuard, cancelled *atomic.Bool, err error, fallback Kind) Kind {
	switch {
	case cancelled != nil && cancelled.Load():
		return KindCancelled
	case g != nil && g.fired.Load():
		return KindTimeout
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return KindInterrupted
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return fallback
}

func snippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "<empty>"
	}
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/plain-dev/bodydrain/internal/drain"
	"github.com/plain-dev/bodydrain/pkg/httpclient"
)

const helloBody = "# Hello\n\n> Hello Java 11"

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	client := httpclient.NewRestyClientWithOptions(httpclient.Options{ConnectTimeout: 5 * time.Second})
	t.Cleanup(client.CloseIdleConnections)
	return New(client, opts...)
}

func mustDescriptor(t *testing.T, uri string, timeoutSeconds int) Descriptor {
	t.Helper()
	d, err := NewDescriptor(uri, timeoutSeconds)
	if err != nil {
		t.Fatalf("NewDescriptor(%q): %v", uri, err)
	}
	return d
}

func helloServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Write([]byte(helloBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSyncReturnsBody(t *testing.T) {
	srv := helloServer(t)
	f := newTestFetcher(t)

	got, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 5))
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if got != helloBody {
		t.Fatalf("FetchSync = %q, want %q", got, helloBody)
	}
}

func TestFetchAsyncMatchesSync(t *testing.T) {
	srv := helloServer(t)
	f := newTestFetcher(t)
	d := mustDescriptor(t, srv.URL, 5)

	syncText, err := f.FetchSync(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}

	p := f.FetchAsync(context.Background(), d)
	asyncText, err := p.Wait(context.Background())
	if err != nil {
		t.Fatalf("FetchAsync: %v", err)
	}
	if asyncText != syncText {
		t.Fatalf("async %q != sync %q", asyncText, syncText)
	}
	if p.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", p.State())
	}
}

func TestFetchSyncSendsDescriptorHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("Accept-Language")))
	}))
	defer srv.Close()
	f := newTestFetcher(t)

	d := mustDescriptor(t, srv.URL, 5).WithHeaders(map[string]string{"Accept-Language": "zh-CN"})
	got, err := f.FetchSync(context.Background(), d)
	if err != nil || got != "zh-CN" {
		t.Fatalf("expected header echoed, got %q err=%v", got, err)
	}
}

func TestFetchSyncUnreachableFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	for _, scope := range []TimeoutScope{ScopeConnect, ScopeTotal} {
		t.Run(string(scope), func(t *testing.T) {
			f := newTestFetcher(t, WithTimeoutScope(scope))
			start := time.Now()
			_, err := f.FetchSync(context.Background(), mustDescriptor(t, "http://"+addr+"/", 1))
			if !IsKind(err, KindConnectFailure) && !IsKind(err, KindTimeout) {
				t.Fatalf("expected connect failure or timeout, got %v", err)
			}
			if elapsed := time.Since(start); elapsed > 3*time.Second {
				t.Fatalf("fetch took %v, expected to fail within the timeout", elapsed)
			}
		})
	}
}

func TestFetchConnectScopeTimesOutWithoutConnection(t *testing.T) {
	// the gated client never reports a connection, so only the guard can end the request
	g := newGatedClient(helloBody)
	f := New(g, WithTimeoutScope(ScopeConnect))
	d := mustDescriptor(t, "http://drain.test/doc", 1)

	start := time.Now()
	_, err := f.FetchSync(context.Background(), d)
	elapsed := time.Since(start)
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed < 900*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("timeout fired after %v, expected about 1s", elapsed)
	}

	waitStarted(t, g)
	p := f.FetchAsync(context.Background(), d)
	waitStarted(t, g)
	select {
	case <-p.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("async fetch did not time out")
	}
	if _, err := p.Wait(context.Background()); !IsKind(err, KindTimeout) {
		t.Fatalf("expected async timeout, got %v", err)
	}
	if p.State() != StateFailed {
		t.Fatalf("expected failed state, got %v", p.State())
	}
}

// slowServer sends headers and a first chunk, then holds the body open for delay.
func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# Hello\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		w.Write([]byte("> Hello Java 11"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSyncTotalScopeBoundsDrain(t *testing.T) {
	srv := slowServer(t, 5*time.Second)
	f := newTestFetcher(t, WithTimeoutScope(ScopeTotal))

	start := time.Now()
	_, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 1))
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("fetch took %v, expected to stop near the 1s bound", elapsed)
	}
}

func TestFetchSyncConnectScopeAllowsSlowBody(t *testing.T) {
	srv := slowServer(t, 1500*time.Millisecond)
	f := newTestFetcher(t, WithTimeoutScope(ScopeConnect))

	got, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 1))
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if got != helloBody {
		t.Fatalf("FetchSync = %q", got)
	}
}

func TestFetchSyncRejectsInvalidUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte{'o', 'k', 0xff, 0xfe, 0xfd})
	}))
	defer srv.Close()
	f := newTestFetcher(t)

	got, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 5))
	if got != "" {
		t.Fatalf("expected no text, got %q", got)
	}
	if !IsKind(err, KindDecodeFailure) || !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected decode failure, got %v", err)
	}
}

func TestFetchSyncReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	f := newTestFetcher(t, WithStatusCheck())

	_, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 5))
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != KindBadStatus || fe.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected bad status error, got %v", err)
	}
}

func TestFetchReturnsErrorPageBodyByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("# Not here"))
	}))
	defer srv.Close()
	f := newTestFetcher(t)
	d := mustDescriptor(t, srv.URL, 5)

	got, err := f.FetchSync(context.Background(), d)
	if err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if got != "# Not here" {
		t.Fatalf("FetchSync = %q, want %q", got, "# Not here")
	}

	async, err := f.FetchAsync(context.Background(), d).Wait(context.Background())
	if err != nil || async != got {
		t.Fatalf("FetchAsync = %q, %v; want %q", async, err, got)
	}
}

func TestFetchSyncReportsOversizedBody(t *testing.T) {
	srv := helloServer(t)
	f := newTestFetcher(t, WithCopier(drain.NewCopier(4, nil)))

	_, err := f.FetchSync(context.Background(), mustDescriptor(t, srv.URL, 5))
	if !IsKind(err, KindReadFailure) || !errors.Is(err, drain.ErrBodyTooLarge) {
		t.Fatalf("expected read failure wrapping ErrBodyTooLarge, got %v", err)
	}
	var ioErr *drain.IOFailure
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOFailure in chain, got %T", err)
	}
}

func TestFetchSyncInterruptedByCaller(t *testing.T) {
	srv := helloServer(t)
	f := newTestFetcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchSync(ctx, mustDescriptor(t, srv.URL, 5))
	if !IsKind(err, KindInterrupted) {
		t.Fatalf("expected interrupted, got %v", err)
	}
}

func TestFetchSyncRejectsZeroDescriptor(t *testing.T) {
	f := newTestFetcher(t)
	_, err := f.FetchSync(context.Background(), Descriptor{})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

type recordedFetch struct {
	mode    Mode
	outcome string
	bytes   int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []recordedFetch
}

func (r *recordingObserver) ObserveFetch(mode Mode, outcome string, _ time.Duration, bytes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedFetch{mode: mode, outcome: outcome, bytes: bytes})
}

func TestFetcherReportsToObserver(t *testing.T) {
	srv := helloServer(t)
	obs := &recordingObserver{}
	f := newTestFetcher(t, WithObserver(obs))
	d := mustDescriptor(t, srv.URL, 5)

	if _, err := f.FetchSync(context.Background(), d); err != nil {
		t.Fatalf("FetchSync: %v", err)
	}
	if _, err := f.FetchAsync(context.Background(), d).Wait(context.Background()); err != nil {
		t.Fatalf("FetchAsync: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	want := []recordedFetch{
		{mode: ModeSync, outcome: OutcomeOK, bytes: len(helloBody)},
		{mode: ModeAsync, outcome: OutcomeOK, bytes: len(helloBody)},
	}
	if len(obs.calls) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(obs.calls))
	}
	for i := range want {
		if obs.calls[i] != want[i] {
			t.Fatalf("observation %d = %+v, want %+v", i, obs.calls[i], want[i])
		}
	}
}

func TestParseTimeoutScope(t *testing.T) {
	for in, want := range map[string]TimeoutScope{"": ScopeTotal, "TOTAL": ScopeTotal, " connect ": ScopeConnect} {
		got, err := ParseTimeoutScope(in)
		if err != nil || got != want {
			t.Fatalf("ParseTimeoutScope(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseTimeoutScope("forever"); err == nil {
		t.Fatalf("expected error for unknown scope")
	}
}

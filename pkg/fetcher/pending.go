package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a Pending fetch.
type State int

const (
	StatePending State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pending is the handle of an in-flight asynchronous fetch. It leaves the
// pending state exactly once.
type Pending struct {
	uri             string
	done            chan struct{}
	cancel          context.CancelFunc
	cancelRequested atomic.Bool

	mu            sync.Mutex
	state         State
	text          string
	err           error
	continuations []func(text string, err error)
}

func newPending(uri string, cancel context.CancelFunc) *Pending {
	return &Pending{
		uri:    uri,
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// URI returns the target of the fetch.
func (p *Pending) URI() string { return p.uri }

// Done is closed once the fetch has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// State returns the current state.
func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Result returns the outcome with ok set once resolved; ok is false while pending.
func (p *Pending) Result() (text string, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StatePending {
		return "", false, nil
	}
	return p.text, true, p.err
}

// Wait blocks until the fetch resolves or ctx is done. Giving up on the wait
// returns an Interrupted error and leaves the fetch running.
func (p *Pending) Wait(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.done:
		text, _, err := p.Result()
		return text, err
	case <-ctx.Done():
		return "", &FetchError{Kind: KindInterrupted, URI: p.uri, Err: ctx.Err()}
	}
}

// Then registers fn to run with the outcome. fn runs on the resolving goroutine,
// or immediately on the caller's goroutine if the fetch has already resolved.
func (p *Pending) Then(fn func(text string, err error)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.state == StatePending {
		p.continuations = append(p.continuations, fn)
		p.mu.Unlock()
		return
	}
	text, err := p.text, p.err
	p.mu.Unlock()
	fn(text, err)
}

// Cancel aborts the fetch if it has not resolved yet. The handle then resolves
// to a Cancelled error without waiting for the body to drain.
func (p *Pending) Cancel() {
	p.cancelRequested.Store(true)
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pending) resolve(text string, err error) {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return
	}
	switch {
	case err == nil:
		p.state = StateCompleted
	case IsKind(err, KindCancelled):
		p.state = StateCancelled
	default:
		p.state = StateFailed
	}
	p.text, p.err = text, err
	conts := p.continuations
	p.continuations = nil
	close(p.done)
	p.mu.Unlock()

	for _, fn := range conts {
		fn(text, err)
	}
}

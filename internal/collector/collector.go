package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/plain-dev/bodydrain/internal/domain"
	"github.com/plain-dev/bodydrain/internal/logger"
	"github.com/plain-dev/bodydrain/pkg/publishers"
	"github.com/plain-dev/bodydrain/pkg/targets"
)

const defaultConcurrency = 4

// Service fetches every target, skips unchanged bodies and publishes the rest.
type Service struct {
	fetcher     DocumentFetcher
	publisher   EventPublisher
	dedupe      Deduper
	snapshots   SnapshotWriter
	log         logger.Logger
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithSnapshots stores a copy of each new body for targets that name a snapshot file.
func WithSnapshots(w SnapshotWriter) Option {
	return func(s *Service) { s.snapshots = w }
}

// WithConcurrency bounds how many targets are processed at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService wires a collector. dedupe may be nil to publish every body.
func NewService(f DocumentFetcher, pub EventPublisher, log logger.Logger, dedupe Deduper, opts ...Option) *Service {
	if log == nil {
		log = logger.NopLogger{}
	}
	s := &Service{
		fetcher:     f,
		publisher:   pub,
		dedupe:      dedupe,
		log:         log,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary counts what one pass did.
type Summary struct {
	Fetched   int
	Unchanged int
	Published int
	Failed    int
}

type outcome int

const (
	outcomePublished outcome = iota + 1
	outcomeUnchanged
)

// Run executes one pass over cfgs. Per-target failures are logged and joined;
// they never stop the other targets.
func (s *Service) Run(ctx context.Context, cfgs []targets.Target) (Summary, error) {
	if s == nil || s.fetcher == nil {
		return Summary{}, fmt.Errorf("collector service is not initialized")
	}
	if len(cfgs) == 0 {
		return Summary{}, fmt.Errorf("no targets configured for collection")
	}

	var (
		mu   sync.Mutex
		sum  Summary
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, t := range cfgs {
		g.Go(func() error {
			res, err := s.runTarget(ctx, t)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				errs = append(errs, err)
				s.log.ErrorObj("target collection failed", "target_error", map[string]any{
					"target_id": t.ID,
					"error":     err.Error(),
				})
				return nil
			}
			sum.Fetched++
			switch res {
			case outcomeUnchanged:
				sum.Unchanged++
			case outcomePublished:
				sum.Published++
			}
			return nil
		})
	}
	_ = g.Wait()

	return sum, errors.Join(errs...)
}

func (s *Service) runTarget(ctx context.Context, t targets.Target) (outcome, error) {
	start := time.Now()
	text, err := s.fetch(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("fetch target %s: %w", t.ID, err)
	}

	doc := domain.NewDocument(t.ID, t.URI, t.Mode, text)
	s.log.DebugObj("target drained", "target_body", map[string]any{
		"target_id":  t.ID,
		"mode":       t.Mode,
		"size":       humanize.Bytes(uint64(doc.Size())),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	if s.dedupe != nil {
		seen, err := s.dedupe.SeenDigest(t.ID, doc.Digest)
		if err != nil {
			return 0, fmt.Errorf("dedupe lookup for target %s: %w", t.ID, err)
		}
		if seen {
			s.log.DebugObj("target body unchanged", "target_unchanged", map[string]any{
				"target_id": t.ID,
				"digest":    doc.Digest,
			})
			return outcomeUnchanged, nil
		}
	}

	if looksLikeHTML(text) {
		doc.Title = parseTitle(text)
	}

	if t.Snapshot != "" && s.snapshots != nil {
		n, err := s.snapshots.Write(t.Snapshot, []byte(text))
		if err != nil {
			return 0, fmt.Errorf("snapshot target %s: %w", t.ID, err)
		}
		s.log.DebugObj("snapshot written", "snapshot", map[string]any{
			"target_id": t.ID,
			"name":      t.Snapshot,
			"size":      humanize.Bytes(uint64(n)),
		})
	}

	if s.publisher != nil {
		delivered, err := s.publisher.Publish(ctx, publishers.NewEvent(t.Name, doc))
		if err != nil {
			if delivered == 0 {
				return 0, fmt.Errorf("publish target %s: %w", t.ID, err)
			}
			s.log.WarnObj("publish partially failed", "publish_error", map[string]any{
				"target_id": t.ID,
				"delivered": delivered,
				"error":     err.Error(),
			})
		}
	}

	if s.dedupe != nil {
		if err := s.dedupe.MarkDigest(t.ID, doc.Digest); err != nil {
			s.log.WarnObj("dedupe mark failed", "dedupe_error", map[string]any{
				"target_id": t.ID,
				"error":     err.Error(),
			})
		}
	}

	s.log.InfoObj("target collected", "target_result", map[string]any{
		"target_id": t.ID,
		"size":      humanize.Bytes(uint64(doc.Size())),
		"title":     doc.Title,
	})
	return outcomePublished, nil
}

// fetch takes the path the target asks for. The async path is awaited through
// its pending handle and cancelled if ctx ends first.
func (s *Service) fetch(ctx context.Context, t targets.Target) (string, error) {
	d, err := t.Descriptor()
	if err != nil {
		return "", err
	}
	if t.Mode != targets.ModeAsync {
		return s.fetcher.FetchSync(ctx, d)
	}

	p := s.fetcher.FetchAsync(ctx, d)
	text, err := p.Wait(ctx)
	if ctx.Err() != nil {
		p.Cancel()
	}
	return text, err
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/plain-dev/bodydrain/internal/collector"
	"github.com/plain-dev/bodydrain/internal/config"
	"github.com/plain-dev/bodydrain/internal/drain"
	"github.com/plain-dev/bodydrain/internal/logger"
	"github.com/plain-dev/bodydrain/internal/metrics"
	"github.com/plain-dev/bodydrain/internal/snapshot"
	"github.com/plain-dev/bodydrain/internal/storage"
	"github.com/plain-dev/bodydrain/pkg/fetcher"
	"github.com/plain-dev/bodydrain/pkg/publishers"
	"github.com/plain-dev/bodydrain/pkg/targets"
)

const drainBufferSize = 32 << 10

// Drainer is the bodydrain runtime. It owns the fetch loop and the
// resources the collector service depends on: the digest store, the
// publishers and the optional metrics listener.
type Drainer struct {
	cfg       *config.Config
	targetReg *targets.Registry
	fanout    *publishers.Fanout
	service   *collector.Service
	store     storage.Store
	gatherer  prometheus.Gatherer
	interval  time.Duration
	log       logger.Logger
}

// NewDrainer builds a drainer runtime from config files.
func NewDrainer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Drainer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	targetReg, err := targets.LoadRegistry(cfg.TargetsFile, cfg.FetchTimeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("load targets registry: %w", err)
	}
	log.InfoObj("targets registry loaded", "targets_meta", map[string]any{
		"count": len(targetReg.IDs()),
		"ids":   targetReg.IDs(),
	})

	fanout, err := buildFanout(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	scope, err := fetcher.ParseTimeoutScope(cfg.TimeoutScope)
	if err != nil {
		fanout.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	fetchOpts := []fetcher.Option{
		fetcher.WithTimeoutScope(scope),
		fetcher.WithMaxInFlight(cfg.MaxInFlight),
		fetcher.WithCopier(drain.NewCopier(cfg.MaxBodyBytes, drain.NewBufferPool(drainBufferSize))),
		fetcher.WithObserver(recorder),
	}
	if cfg.StatusCheck {
		fetchOpts = append(fetchOpts, fetcher.WithStatusCheck())
	}
	f := fetcher.New(nil, fetchOpts...)
	log.InfoObj("fetcher configured", "fetcher_config", map[string]any{
		"timeout_scope":        string(f.Scope()),
		"status_check":         cfg.StatusCheck,
		"max_in_flight":        cfg.MaxInFlight,
		"max_body":             humanize.Bytes(uint64(cfg.MaxBodyBytes)),
		"default_timeout_secs": cfg.FetchTimeoutSeconds,
	})

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		DigestTTL:       cfg.StorageTTL,
		CleanupInterval: cfg.StorageCleanupInterval,
	})
	if err != nil {
		fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"digest_ttl_seconds":       int(cfg.StorageTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.StorageCleanupInterval.Seconds()),
	})

	opts := []collector.Option{collector.WithConcurrency(cfg.MaxInFlight)}
	if cfg.SnapshotDir != "" {
		w, err := snapshot.NewWriter(cfg.SnapshotDir)
		if err != nil {
			fanout.Close()
			store.Close()
			return nil, fmt.Errorf("init snapshots: %w", err)
		}
		opts = append(opts, collector.WithSnapshots(w))
		log.InfoObj("snapshots enabled", "snapshot_dir", cfg.SnapshotDir)
	}

	return &Drainer{
		cfg:       cfg,
		targetReg: targetReg,
		fanout:    fanout,
		service:   collector.NewService(f, fanout, log, store, opts...),
		store:     store,
		gatherer:  reg,
		interval:  cfg.FetchInterval,
		log:       log,
	}, nil
}

// buildFanout loads the publishers file. An empty path logs documents only.
func buildFanout(ctx context.Context, cfg *config.Config, log logger.Logger) (*publishers.Fanout, error) {
	var enabled []publishers.PublisherConfig
	if cfg.PublishersFile == "" {
		enabled = []publishers.PublisherConfig{{ID: "log", Type: publishers.TypeLog}}
	} else {
		publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
		if err != nil {
			return nil, fmt.Errorf("load publishers registry: %w", err)
		}
		enabled = publisherReg.Enabled()
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no publishers configured")
	}

	pubClients, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubClients), nil
}

// Run drains every target once, then again on each tick until ctx is
// cancelled. With run_once set it returns after the first pass.
func (d *Drainer) Run(ctx context.Context) error {
	if d == nil || d.service == nil {
		return fmt.Errorf("drainer is not initialized")
	}
	defer d.close()

	if d.cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, d.cfg.MetricsAddr, d.gatherer); err != nil {
				d.log.ErrorObj("metrics listener failed", "error", err.Error())
			}
		}()
	}

	all := d.targetReg.All()
	if len(all) == 0 {
		d.log.WarnObj("no targets configured; drainer idle", "targets_file", d.cfg.TargetsFile)
		if d.cfg.RunOnce {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	d.log.InfoObj("drain loop starting", "drainer_state", map[string]any{
		"targets_count":    len(all),
		"publishers_count": d.fanout.Size(),
		"fetch_interval":   d.interval.String(),
		"run_once":         d.cfg.RunOnce,
	})

	if err := d.runOnce(ctx, all); err != nil {
		if d.cfg.RunOnce {
			return err
		}
		d.log.ErrorObj("initial drain failed", "error", err.Error())
	}
	if d.cfg.RunOnce {
		return nil
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.InfoObj("drain loop exiting", "reason", ctx.Err().Error())
			return nil
		case <-ticker.C:
			if err := d.runOnce(ctx, all); err != nil {
				d.log.ErrorObj("scheduled drain failed", "error", err.Error())
			}
		}
	}
}

// runOnce performs a single pass across all targets.
func (d *Drainer) runOnce(ctx context.Context, all []targets.Target) error {
	start := time.Now()
	d.log.InfoObj("drain started", "drain_meta", map[string]any{
		"targets_count": len(all),
		"started_at":    start.UTC(),
	})
	sum, err := d.service.Run(ctx, all)
	d.log.InfoObj("drain completed", "drain_meta", map[string]any{
		"targets_count": len(all),
		"published":     sum.Published,
		"unchanged":     sum.Unchanged,
		"failed":        sum.Failed,
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})
	return err
}

// close releases the store and publisher clients, logging any errors encountered.
func (d *Drainer) close() {
	if err := d.fanout.Close(); err != nil {
		d.log.ErrorObj("publisher close failed", "error", err.Error())
	}
	if d.store == nil {
		return
	}
	if err := d.store.Close(); err != nil {
		d.log.ErrorObj("storage close failed", "error", err.Error())
	}
}

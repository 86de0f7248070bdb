package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plain-dev/bodydrain/internal/config"
	"github.com/plain-dev/bodydrain/internal/logger"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func baseConfig(t *testing.T, dir, targetsFile string) *config.Config {
	t.Helper()
	return &config.Config{
		AppName:                "bodydrain",
		LogLevel:               "debug",
		TargetsFile:            targetsFile,
		FetchInterval:          time.Hour,
		RunOnce:                true,
		FetchTimeoutSeconds:    5,
		TimeoutScope:           "total",
		MaxInFlight:            2,
		MaxBodyBytes:           1 << 20,
		StorageType:            "bbolt",
		BBoltPath:              filepath.Join(dir, "digests.db"),
		StorageTTL:             time.Hour,
		StorageCleanupInterval: time.Hour,
		SnapshotDir:            filepath.Join(dir, "snapshots"),
	}
}

func TestDrainerRunOnceWithHTTPPublisher(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# Hello\n\n> Hello Java 11"))
	}))
	defer site.Close()

	var (
		mu     sync.Mutex
		events []map[string]any
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt map[string]any
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode event: %v", err)
		}
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	dir := t.TempDir()
	targetsFile := writeFile(t, dir, "targets.yaml", fmt.Sprintf(`
targets:
  - id: readme
    uri: %s/readme
    mode: async
    snapshot: readme.md
`, site.URL))
	cfg := baseConfig(t, dir, targetsFile)
	cfg.PublishersFile = writeFile(t, dir, "publishers.yaml", fmt.Sprintf(`
publishers:
  - id: hook
    type: http
    http:
      url: %s
`, hook.URL))

	d, err := NewDrainer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0]["target_id"] != "readme" || events[0]["body"] != "# Hello\n\n> Hello Java 11" {
		t.Fatalf("unexpected event %#v", events[0])
	}

	snap, err := os.ReadFile(filepath.Join(dir, "snapshots", "readme.md"))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if string(snap) != "# Hello\n\n> Hello Java 11" {
		t.Fatalf("unexpected snapshot %q", snap)
	}
}

func TestDrainerRunOnceLogsWithoutPublishersFile(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><head><title>Status</title></head></html>"))
	}))
	defer site.Close()

	dir := t.TempDir()
	cfg := baseConfig(t, dir, writeFile(t, dir, "targets.yaml", fmt.Sprintf(`
targets:
  - id: status
    uri: %s/
`, site.URL)))
	cfg.StorageType = "none"
	cfg.SnapshotDir = ""

	out := &syncBuffer{}
	d, err := NewDrainer(context.Background(), cfg, logger.New(logger.NewSugared("info", out)))
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logs := out.String()
	if !strings.Contains(logs, `"msg":"document drained"`) || !strings.Contains(logs, `"title":"Status"`) {
		t.Fatalf("expected log publisher output, got %s", logs)
	}
}

func TestDrainerRunOnceReturnsTargetErrors(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer site.Close()

	dir := t.TempDir()
	cfg := baseConfig(t, dir, writeFile(t, dir, "targets.yaml", fmt.Sprintf(`
targets:
  - id: broken
    uri: %s/
`, site.URL)))
	cfg.StorageType = "none"
	cfg.StatusCheck = true

	d, err := NewDrainer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatalf("expected run-once to surface the failure")
	}
}

func TestDrainerLoopStopsOnCancel(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer site.Close()

	dir := t.TempDir()
	cfg := baseConfig(t, dir, writeFile(t, dir, "targets.yaml", fmt.Sprintf(`
targets:
  - id: ok
    uri: %s/
`, site.URL)))
	cfg.RunOnce = false
	cfg.StorageType = "none"

	d, err := NewDrainer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDrainer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("drainer did not stop after cancel")
	}
}

func TestNewDrainerRejectsBadInputs(t *testing.T) {
	if _, err := NewDrainer(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}

	dir := t.TempDir()
	cfg := baseConfig(t, dir, filepath.Join(dir, "missing.yaml"))
	if _, err := NewDrainer(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for missing targets file")
	}

	cfg = baseConfig(t, dir, writeFile(t, dir, "targets.yaml", "targets:\n  - id: a\n    uri: https://example.com/\n"))
	cfg.TimeoutScope = "forever"
	if _, err := NewDrainer(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unknown timeout scope")
	}
}

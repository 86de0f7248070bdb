// Package targets loads the list of URIs to fetch from YAML/JSON files.
package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/plain-dev/bodydrain/pkg/fetcher"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Target is one configured fetch.
type Target struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	URI            string            `json:"uri" yaml:"uri"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	Mode           string            `json:"mode" yaml:"mode"`
	Snapshot       string            `json:"snapshot" yaml:"snapshot"`
	Config         map[string]string `json:"config" yaml:"config"`
}

type fileRegistry struct {
	Targets []Target `json:"targets" yaml:"targets"`
}

// Registry holds validated targets in file order.
type Registry struct {
	targets []Target
}

// LoadRegistry reads and validates the targets file. Targets without a
// timeout inherit defaultTimeoutSeconds.
func LoadRegistry(path string, defaultTimeoutSeconds int) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("targets file path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	file, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return NewRegistry(file.Targets, defaultTimeoutSeconds)
}

// NewRegistry validates targets and indexes them by id.
func NewRegistry(targets []Target, defaultTimeoutSeconds int) (*Registry, error) {
	if len(targets) == 0 {
		return nil, errors.New("targets file contains no targets entries")
	}

	reg := &Registry{targets: make([]Target, 0, len(targets))}
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		t = sanitizeTarget(t, defaultTimeoutSeconds)
		if err := validateTarget(t); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if _, exists := seen[t.ID]; exists {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		reg.targets = append(reg.targets, t)
		seen[t.ID] = struct{}{}
	}
	return reg, nil
}

type unmarshalFn func([]byte, any) error

func parseRegistry(data []byte, ext string) (fileRegistry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg fileRegistry
		if err := d.fn(data, &reg); err != nil {
			errs = append(errs, fmt.Errorf("decode %s targets: %w", d.name, err))
			continue
		}
		return reg, nil
	}

	return fileRegistry{}, fmt.Errorf("targets file format not recognized (expected YAML or JSON): %w", errors.Join(errs...))
}

func sanitizeTarget(t Target, defaultTimeoutSeconds int) Target {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	t.URI = strings.TrimSpace(t.URI)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	t.Snapshot = strings.TrimSpace(t.Snapshot)

	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Mode == "" {
		t.Mode = ModeSync
	}
	if t.TimeoutSeconds <= 0 {
		t.TimeoutSeconds = defaultTimeoutSeconds
	}
	if t.Config == nil {
		t.Config = map[string]string{}
	}
	return t
}

func validateTarget(t Target) error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.URI == "" {
		return fmt.Errorf("uri is required for target %q", t.ID)
	}
	if t.Mode != ModeSync && t.Mode != ModeAsync {
		return fmt.Errorf("mode must be %q or %q for target %q", ModeSync, ModeAsync, t.ID)
	}
	if _, err := t.Descriptor(); err != nil {
		return fmt.Errorf("target %q: %w", t.ID, err)
	}
	return nil
}

// Descriptor builds the fetch descriptor for the target, including its headers.
func (t Target) Descriptor() (fetcher.Descriptor, error) {
	d, err := fetcher.NewDescriptor(t.URI, t.TimeoutSeconds)
	if err != nil {
		return fetcher.Descriptor{}, err
	}
	return d.WithHeaders(Headers(t)), nil
}

// All returns a copy of the targets in file order.
func (r *Registry) All() []Target {
	if r == nil {
		return nil
	}
	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// IDs lists the target ids in file order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		ids = append(ids, t.ID)
	}
	return ids
}

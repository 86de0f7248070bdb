// Package storage remembers which body digests were already published per target.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// Store tracks published body digests.
type Store interface {
	Close() error
	SeenDigest(targetID, digest string) (bool, error)
	MarkDigest(targetID, digest string) error
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	DigestTTL       time.Duration
	CleanupInterval time.Duration
}

const (
	defaultDigestTTL       = 24 * time.Hour
	defaultCleanupInterval = 6 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.DigestTTL <= 0 {
		opts.DigestTTL = defaultDigestTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

// digestKey joins target id and digest into one bucket key.
func digestKey(targetID, digest string) []byte {
	return []byte(targetID + "\x00" + digest)
}

type noopStore struct{}

func (noopStore) Close() error                            { return nil }
func (noopStore) SeenDigest(string, string) (bool, error) { return false, nil }
func (noopStore) MarkDigest(string, string) error         { return nil }

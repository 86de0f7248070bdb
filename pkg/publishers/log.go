package publishers

import (
	"context"

	"github.com/dustin/go-humanize"
)

// logPublisher writes a summary of each event to the structured log.
type logPublisher struct {
	id  string
	log Logger
}

func newLogPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	return &logPublisher{id: cfg.ID, log: ensureLogger(log)}, nil
}

func (l *logPublisher) ID() string   { return l.id }
func (l *logPublisher) Type() string { return TypeLog }

func (l *logPublisher) Publish(_ context.Context, evt Event) error {
	l.log.InfoObj("document drained", "document", map[string]any{
		"event_id":  evt.ID,
		"target_id": evt.TargetID,
		"uri":       evt.URI,
		"mode":      evt.Mode,
		"size":      humanize.Bytes(uint64(evt.Bytes)),
		"title":     evt.Title,
		"digest":    evt.Digest,
	})
	return nil
}

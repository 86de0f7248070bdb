package publishers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plain-dev/bodydrain/internal/domain"
)

// Event represents the payload published downstream for one drained body.
type Event struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id"`
	TargetName string    `json:"target_name"`
	URI        string    `json:"uri"`
	Mode       string    `json:"mode"`
	Digest     string    `json:"digest"`
	Bytes      int       `json:"bytes"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body"`
	FetchedAt  time.Time `json:"fetched_at"`

	// BodyOmitted is set when Body was dropped to fit a sink's message size limit.
	BodyOmitted bool `json:"body_omitted,omitempty"`
}

// ErrMessageTooLarge is returned when an event does not fit a sink even without its body.
var ErrMessageTooLarge = errors.New("publishers: event exceeds message size limit")

// NewEvent constructs an Event for the given target and document.
func NewEvent(targetName string, doc domain.Document) Event {
	return Event{
		ID:         uuid.NewString(),
		TargetID:   doc.TargetID,
		TargetName: targetName,
		URI:        doc.URI,
		Mode:       doc.Mode,
		Digest:     doc.Digest,
		Bytes:      doc.Size(),
		Title:      doc.Title,
		Body:       doc.Text,
		FetchedAt:  doc.FetchedAt,
	}
}

// attributes are attached as message attributes by queue-style publishers.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_id":  e.ID,
		"target_id": e.TargetID,
		"digest":    e.Digest,
	}
}

// encodeCapped marshals evt, dropping the body when the payload would exceed
// limit bytes. A limit of zero or less means unlimited.
func encodeCapped(evt Event, limit int) ([]byte, bool, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, false, fmt.Errorf("marshal event: %w", err)
	}
	if limit <= 0 || len(payload) <= limit {
		return payload, false, nil
	}

	evt.Body = ""
	evt.BodyOmitted = true
	payload, err = json.Marshal(evt)
	if err != nil {
		return nil, false, fmt.Errorf("marshal event: %w", err)
	}
	if len(payload) > limit {
		return nil, false, fmt.Errorf("%w: %d bytes without body, limit %d", ErrMessageTooLarge, len(payload), limit)
	}
	return payload, true, nil
}

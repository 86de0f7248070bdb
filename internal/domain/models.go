package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is the drained text of one fetch.
type Document struct {
	TargetID  string
	URI       string
	Mode      string
	Text      string
	Digest    string
	Title     string
	FetchedAt time.Time
}

// NewDocument builds a Document and computes its content digest.
func NewDocument(targetID, uri, mode, text string) Document {
	return Document{
		TargetID:  targetID,
		URI:       uri,
		Mode:      mode,
		Text:      text,
		Digest:    Digest(text),
		FetchedAt: time.Now().UTC(),
	}
}

// Digest returns the hex SHA-256 of text.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Size is the drained body length in bytes.
func (d Document) Size() int { return len(d.Text) }

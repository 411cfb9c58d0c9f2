package domain

import (
	"errors"
	"strings"
)

// InvoiceEvent identifies one unit of work: a file shared in a conversation.
// Delivery is at-least-once; EventID is the dedup key. Immutable once
// received.
type InvoiceEvent struct {
	EventID           string `json:"event_id"`
	SourceRef         string `json:"source_ref"`
	ConversationRef   string `json:"conversation_ref"`
	DeclaredMIMEType  string `json:"declared_mime_type"`
	DeclaredName      string `json:"declared_name"`
	DeclaredSizeBytes int64  `json:"declared_size_bytes"`
}

func (e InvoiceEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return WrapError(ErrMalformedEvent, "validate event", errors.New("event_id is required"))
	}
	if strings.TrimSpace(e.SourceRef) == "" {
		return WrapError(ErrMalformedEvent, "validate event", errors.New("source_ref is required"))
	}
	if strings.TrimSpace(e.ConversationRef) == "" {
		return WrapError(ErrMalformedEvent, "validate event", errors.New("conversation_ref is required"))
	}
	return nil
}

// RawFile holds the fetched document for the duration of a single run. The
// core never persists it.
type RawFile struct {
	Name     string
	MIMEType string
	Bytes    []byte
}

func (f *RawFile) Size() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Bytes))
}

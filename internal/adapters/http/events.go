package httpadapter

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

const maxEventBodyBytes = 1 << 20

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"
)

type eventEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	EventID   string     `json:"event_id"`
	Event     innerEvent `json:"event"`
}

type innerEvent struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	Channel   string    `json:"channel"`
	File      eventFile `json:"file"`
}

type eventFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MIMEType    string `json:"mimetype"`
	SizeBytes   int64  `json:"size"`
	DownloadURL string `json:"url_private_download"`
}

// handleEvents acknowledges the webhook fast and hands real work to the
// queue. Slack redelivers on anything but a timely 2xx, so the handler never
// blocks on the pipeline.
func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if rt.verifier != nil {
		if err := rt.verifier.Verify(r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body); err != nil {
			slog.Warn("webhook signature rejected",
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
			rt.record("", "rejected")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			return
		}
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	switch envelope.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
	case "event_callback":
		rt.handleEventCallback(w, r, envelope)
	default:
		// Unknown envelope types are acknowledged so the sender stops
		// redelivering them.
		rt.record(envelope.Type, "ignored")
		w.WriteHeader(http.StatusOK)
	}
}

func (rt *Router) handleEventCallback(w http.ResponseWriter, r *http.Request, envelope eventEnvelope) {
	if envelope.Event.Type != "file_shared" {
		rt.record(envelope.Event.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	channel := envelope.Event.ChannelID
	if channel == "" {
		channel = envelope.Event.Channel
	}

	event := domain.InvoiceEvent{
		EventID:           envelope.EventID,
		SourceRef:         envelope.Event.File.DownloadURL,
		ConversationRef:   channel,
		DeclaredMIMEType:  envelope.Event.File.MIMEType,
		DeclaredName:      envelope.Event.File.Name,
		DeclaredSizeBytes: envelope.Event.File.SizeBytes,
	}
	if err := event.Validate(); err != nil {
		slog.Warn("dropping malformed file event",
			"request_id", requestIDFromContext(r.Context()),
			"event_id", envelope.EventID,
			"error", err)
		// Still a 200: redelivery cannot fix a malformed event.
		rt.record(envelope.Event.Type, "dropped")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := rt.queue.PublishFileShared(r.Context(), event); err != nil {
		slog.Error("enqueue file event failed",
			"request_id", requestIDFromContext(r.Context()),
			"event_id", event.EventID,
			"error", err)
		rt.record(envelope.Event.Type, "rejected")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event queue unavailable"})
		return
	}

	rt.record(envelope.Event.Type, "enqueued")
	w.WriteHeader(http.StatusAccepted)
}

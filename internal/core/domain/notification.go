package domain

type NotificationPhase string

const (
	PhaseStarted   NotificationPhase = "started"
	PhaseSucceeded NotificationPhase = "succeeded"
	PhaseFailed    NotificationPhase = "failed"
)

// Notification is the status payload posted back to the originating
// conversation. Text is the rendered human-readable message; the structured
// fields travel alongside for adapters that can show richer formatting.
type Notification struct {
	EventID      string            `json:"event_id"`
	Phase        NotificationPhase `json:"phase"`
	Stage        Stage             `json:"stage,omitempty"`
	Text         string            `json:"text"`
	Draft        *InvoiceDraft     `json:"draft,omitempty"`
	Category     string            `json:"category,omitempty"`
	LedgerLink   string            `json:"ledger_link,omitempty"`
	ErrorSummary string            `json:"error_summary,omitempty"`
}

package ports

import (
	"context"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

// DocumentFetcher resolves an event's source reference to raw bytes and
// metadata. It also enforces the post-fetch half of the admission policy
// (byte-sniffed type must agree with the declared type).
type DocumentFetcher interface {
	Fetch(ctx context.Context, event domain.InvoiceEvent) (*domain.RawFile, error)
}

// InvoiceExtractor turns raw document bytes into a structured draft.
// Transient failures are wrapped with domain.ErrTransient.
type InvoiceExtractor interface {
	Extract(ctx context.Context, file *domain.RawFile) (*domain.InvoiceDraft, error)
}

// ExpenseCategorizer picks a category for the draft out of the allowed set.
// Implementations must never return a category outside allowed: an
// out-of-set answer from the underlying model is normalized to
// domain.CategoryUncategorized, not surfaced as an error.
type ExpenseCategorizer interface {
	Categorize(ctx context.Context, draft *domain.InvoiceDraft, allowed []string, businessContext string) (domain.CategoryDecision, error)
}

// LedgerFiler creates a draft payable entry from the draft, the category and
// the original file. The orchestrator guarantees at-most-once invocation per
// event; the adapter itself need not be idempotent.
type LedgerFiler interface {
	File(ctx context.Context, draft *domain.InvoiceDraft, decision domain.CategoryDecision, file *domain.RawFile) (*domain.LedgerReference, error)
}

// ConversationNotifier posts a status message to the originating
// conversation. Failures are reported to the caller but never abort a run.
type ConversationNotifier interface {
	Notify(ctx context.Context, conversationRef string, payload domain.Notification) error
}

// IdempotencyStore tracks per-event run state. Claim must be atomic
// check-and-set so two concurrent deliveries of the same event cannot both
// enter the pipeline. An in-flight claim never released (crash) expires
// after the store's lease duration.
type IdempotencyStore interface {
	Claim(ctx context.Context, eventID string) (domain.ClaimResult, error)
	Complete(ctx context.Context, eventID string, outcome domain.ProcessingOutcome) error
	Release(ctx context.Context, eventID string) error
}

// EventQueue moves file-shared events from the webhook receiver to the
// pipeline workers.
type EventQueue interface {
	PublishFileShared(ctx context.Context, event domain.InvoiceEvent) error
	SubscribeFileShared(ctx context.Context, handler func(context.Context, domain.InvoiceEvent) error) error
}

// FileStager optionally parks the fetched bytes in blob storage for the
// duration of one run. Both operations are best-effort from the
// orchestrator's point of view.
type FileStager interface {
	Stage(ctx context.Context, key string, file *domain.RawFile) error
	Discard(ctx context.Context, key string) error
}

package ports

import (
	"context"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

// InvoiceProcessor is the inbound contract for running one shared file
// through the pipeline. The returned outcome is always terminal (or a
// skip); the error is reserved for contract violations and idempotency
// store faults, never for stage failures.
type InvoiceProcessor interface {
	Process(ctx context.Context, event domain.InvoiceEvent) (domain.ProcessingOutcome, error)
}

package domain

import "time"

type ProcessingStatus string

const (
	StatusSucceeded              ProcessingStatus = "succeeded"
	StatusFailedAtFetch          ProcessingStatus = "failed_at_fetch"
	StatusFailedAtExtraction     ProcessingStatus = "failed_at_extraction"
	StatusFailedAtCategorization ProcessingStatus = "failed_at_categorization"
	StatusFailedAtLedger         ProcessingStatus = "failed_at_ledger"
	StatusSkipped                ProcessingStatus = "skipped"
)

type SkipReason string

const (
	SkipDuplicateInFlight  SkipReason = "duplicate-in-flight"
	SkipDuplicateCompleted SkipReason = "duplicate-completed"
)

// Stage names are user-visible: failure notifications name the stage reached.
type Stage string

const (
	StageFetch          Stage = "Fetch"
	StageExtraction     Stage = "Extraction"
	StageCategorization Stage = "Categorization"
	StageLedger         Stage = "Ledger"
)

// ProcessingOutcome is the terminal state of one pipeline run. Whatever the
// pipeline obtained before stopping is retained for operator visibility.
type ProcessingOutcome struct {
	EventID      string            `json:"event_id"`
	Status       ProcessingStatus  `json:"status"`
	SkipReason   SkipReason        `json:"skip_reason,omitempty"`
	Draft        *InvoiceDraft     `json:"draft,omitempty"`
	Category     *CategoryDecision `json:"category,omitempty"`
	Ledger       *LedgerReference  `json:"ledger,omitempty"`
	ErrorSummary string            `json:"error_summary,omitempty"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
}

// FailureStage maps a failed status to the stage that produced it.
func (o ProcessingOutcome) FailureStage() Stage {
	switch o.Status {
	case StatusFailedAtFetch:
		return StageFetch
	case StatusFailedAtExtraction:
		return StageExtraction
	case StatusFailedAtCategorization:
		return StageCategorization
	case StatusFailedAtLedger:
		return StageLedger
	default:
		return ""
	}
}

func (o ProcessingOutcome) Failed() bool {
	switch o.Status {
	case StatusFailedAtFetch, StatusFailedAtExtraction, StatusFailedAtCategorization, StatusFailedAtLedger:
		return true
	default:
		return false
	}
}

// ClaimState is the idempotency store's answer to a claim attempt.
type ClaimState string

const (
	ClaimAcquired ClaimState = "acquired"
	ClaimInFlight ClaimState = "in_flight"
	ClaimTerminal ClaimState = "terminal"
)

// ClaimResult carries the cached outcome when the event is already terminal.
type ClaimResult struct {
	State   ClaimState
	Outcome *ProcessingOutcome
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/core/ports"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

// StageTimeouts bounds each attempt of the corresponding port call. Zero
// disables the per-attempt deadline for that stage.
type StageTimeouts struct {
	Fetch      time.Duration
	Extract    time.Duration
	Categorize time.Duration
	Ledger     time.Duration
	Notify     time.Duration
}

// Options holds the policy values and optional collaborators of the
// orchestrator. Executor defaults to resilience.DefaultConfig when nil;
// Stager is disabled when nil.
type Options struct {
	Admission         domain.AdmissionPolicy
	AllowedCategories []string
	BusinessContext   string
	Timeouts          StageTimeouts
	Executor          *resilience.Executor
	Stager            ports.FileStager
}

// ProcessInvoiceUseCase drives one shared file through fetch, extraction,
// categorization, filing and notification, with per-stage retries and
// per-event idempotency.
type ProcessInvoiceUseCase struct {
	store       ports.IdempotencyStore
	fetcher     ports.DocumentFetcher
	extractor   ports.InvoiceExtractor
	categorizer ports.ExpenseCategorizer
	ledger      ports.LedgerFiler
	notifier    ports.ConversationNotifier

	stager    ports.FileStager
	exec      *resilience.Executor
	admission domain.AdmissionPolicy
	allowed   []string
	context   string
	timeouts  StageTimeouts
}

func NewProcessInvoiceUseCase(
	store ports.IdempotencyStore,
	fetcher ports.DocumentFetcher,
	extractor ports.InvoiceExtractor,
	categorizer ports.ExpenseCategorizer,
	ledger ports.LedgerFiler,
	notifier ports.ConversationNotifier,
	opts Options,
) *ProcessInvoiceUseCase {
	exec := opts.Executor
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &ProcessInvoiceUseCase{
		store:       store,
		fetcher:     fetcher,
		extractor:   extractor,
		categorizer: categorizer,
		ledger:      ledger,
		notifier:    notifier,
		stager:      opts.Stager,
		exec:        exec,
		admission:   opts.Admission,
		allowed:     opts.AllowedCategories,
		context:     opts.BusinessContext,
		timeouts:    opts.Timeouts,
	}
}

// Process runs the pipeline for one event. Stage failures are folded into
// the returned outcome; the error return is reserved for malformed events
// and idempotency store faults.
func (uc *ProcessInvoiceUseCase) Process(ctx context.Context, event domain.InvoiceEvent) (domain.ProcessingOutcome, error) {
	if err := event.Validate(); err != nil {
		return domain.ProcessingOutcome{}, err
	}

	claim, err := uc.store.Claim(ctx, event.EventID)
	if err != nil {
		return domain.ProcessingOutcome{}, fmt.Errorf("claim event %s: %w", event.EventID, err)
	}
	switch claim.State {
	case domain.ClaimTerminal:
		slog.Info("duplicate_event_completed", "event_id", event.EventID)
		return *claim.Outcome, nil
	case domain.ClaimInFlight:
		slog.Info("duplicate_event_in_flight", "event_id", event.EventID)
		return domain.ProcessingOutcome{
			EventID:    event.EventID,
			Status:     domain.StatusSkipped,
			SkipReason: domain.SkipDuplicateInFlight,
		}, nil
	}

	releaseClaim := true
	defer func() {
		if !releaseClaim {
			return
		}
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := uc.store.Release(releaseCtx, event.EventID); err != nil {
			slog.Error("release_claim_failed", "event_id", event.EventID, "error", err)
		}
	}()

	uc.notify(ctx, event, startedNotification(event))

	outcome := uc.runPipeline(ctx, event)
	outcome.EventID = event.EventID
	outcome.CompletedAt = time.Now().UTC()

	// Terminal state is recorded before the terminal notification so a
	// crash in between never re-runs the ledger stage on redelivery. Once
	// the pipeline has run, the claim is kept even when recording fails:
	// releasing it would invite an immediate redelivery to file a second
	// bill, while the lease already bounds how long the event stays locked.
	releaseClaim = false
	if err := uc.store.Complete(ctx, event.EventID, outcome); err != nil {
		return outcome, fmt.Errorf("record outcome for %s: %w", event.EventID, err)
	}

	uc.notify(ctx, event, terminalNotification(event, outcome))
	return outcome, nil
}

func (uc *ProcessInvoiceUseCase) runPipeline(ctx context.Context, event domain.InvoiceEvent) domain.ProcessingOutcome {
	if err := uc.admission.Admit(event.DeclaredMIMEType, event.DeclaredSizeBytes); err != nil {
		return domain.ProcessingOutcome{
			Status:       domain.StatusFailedAtFetch,
			ErrorSummary: err.Error(),
		}
	}

	file, err := uc.fetch(ctx, event)
	if err != nil {
		return domain.ProcessingOutcome{
			Status:       domain.StatusFailedAtFetch,
			ErrorSummary: err.Error(),
		}
	}

	if uc.stager != nil {
		key := stagingKey(event, file)
		if err := uc.stager.Stage(ctx, key, file); err != nil {
			slog.Warn("stage_file_failed", "event_id", event.EventID, "key", key, "error", err)
		} else {
			defer func() {
				discardCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := uc.stager.Discard(discardCtx, key); err != nil {
					slog.Warn("discard_staged_file_failed", "event_id", event.EventID, "key", key, "error", err)
				}
			}()
		}
	}

	draft, err := uc.extract(ctx, file)
	if err != nil {
		return domain.ProcessingOutcome{
			Status:       domain.StatusFailedAtExtraction,
			ErrorSummary: err.Error(),
		}
	}

	decision, failure := uc.categorize(ctx, event, draft)
	if failure != nil {
		return domain.ProcessingOutcome{
			Status:       domain.StatusFailedAtCategorization,
			Draft:        draft,
			ErrorSummary: failure.Error(),
		}
	}

	ref, err := uc.file(ctx, draft, decision, file)
	if err != nil {
		return domain.ProcessingOutcome{
			Status:       domain.StatusFailedAtLedger,
			Draft:        draft,
			Category:     &decision,
			ErrorSummary: err.Error(),
		}
	}

	return domain.ProcessingOutcome{
		Status:   domain.StatusSucceeded,
		Draft:    draft,
		Category: &decision,
		Ledger:   ref,
	}
}

func (uc *ProcessInvoiceUseCase) fetch(ctx context.Context, event domain.InvoiceEvent) (*domain.RawFile, error) {
	var file *domain.RawFile
	err := uc.exec.Execute(ctx, "pipeline.fetch", uc.timeouts.Fetch, func(stageCtx context.Context) error {
		var err error
		file, err = uc.fetcher.Fetch(stageCtx, event)
		return err
	}, classifyStageError)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	return file, nil
}

func (uc *ProcessInvoiceUseCase) extract(ctx context.Context, file *domain.RawFile) (*domain.InvoiceDraft, error) {
	var draft *domain.InvoiceDraft
	err := uc.exec.Execute(ctx, "pipeline.extract", uc.timeouts.Extract, func(stageCtx context.Context) error {
		var err error
		draft, err = uc.extractor.Extract(stageCtx, file)
		return err
	}, classifyStageError)
	if err != nil {
		return nil, fmt.Errorf("extract invoice fields: %w", err)
	}
	if !draft.Usable() {
		return nil, errors.New("extraction produced no usable fields")
	}
	return draft, nil
}

// categorize degrades to the uncategorized sentinel when the port keeps
// failing transiently: categorization is advisory, not a gate on filing.
// Permanent failures, and out-of-set categories slipping past the adapter,
// fail the stage with the draft retained.
func (uc *ProcessInvoiceUseCase) categorize(ctx context.Context, event domain.InvoiceEvent, draft *domain.InvoiceDraft) (domain.CategoryDecision, error) {
	var decision domain.CategoryDecision
	err := uc.exec.Execute(ctx, "pipeline.categorize", uc.timeouts.Categorize, func(stageCtx context.Context) error {
		var err error
		decision, err = uc.categorizer.Categorize(stageCtx, draft, uc.allowed, uc.context)
		return err
	}, classifyStageError)
	if err != nil {
		if domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("categorization_degraded", "event_id", event.EventID, "error", err)
			return domain.CategoryDecision{
				Category:  domain.CategoryUncategorized,
				Rationale: "categorization unavailable, assigned fallback",
			}, nil
		}
		return domain.CategoryDecision{}, fmt.Errorf("categorize invoice: %w", err)
	}
	if !domain.CategoryAllowed(decision.Category, uc.allowed) {
		return domain.CategoryDecision{}, fmt.Errorf("categorize invoice: category %q is outside the allowed set", decision.Category)
	}
	return decision, nil
}

func (uc *ProcessInvoiceUseCase) file(ctx context.Context, draft *domain.InvoiceDraft, decision domain.CategoryDecision, file *domain.RawFile) (*domain.LedgerReference, error) {
	var ref *domain.LedgerReference
	err := uc.exec.Execute(ctx, "pipeline.ledger", uc.timeouts.Ledger, func(stageCtx context.Context) error {
		var err error
		ref, err = uc.ledger.File(stageCtx, draft, decision, file)
		return err
	}, classifyStageError)
	if err != nil {
		return nil, fmt.Errorf("file ledger entry: %w", err)
	}
	return ref, nil
}

// notify is best-effort on both the started and the terminal message: a
// failed courtesy message never changes the recorded outcome.
func (uc *ProcessInvoiceUseCase) notify(ctx context.Context, event domain.InvoiceEvent, payload domain.Notification) {
	notifyCtx := ctx
	if uc.timeouts.Notify > 0 {
		var cancel context.CancelFunc
		notifyCtx, cancel = context.WithTimeout(ctx, uc.timeouts.Notify)
		defer cancel()
	}
	if err := uc.notifier.Notify(notifyCtx, event.ConversationRef, payload); err != nil {
		slog.Error("notification_failed",
			"event_id", event.EventID,
			"phase", string(payload.Phase),
			"conversation", event.ConversationRef,
			"error", err,
		)
	}
}

func classifyStageError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) || domain.IsTransient(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
}

func stagingKey(event domain.InvoiceEvent, file *domain.RawFile) string {
	name := file.Name
	if name == "" {
		name = event.DeclaredName
	}
	if name == "" {
		name = "document"
	}
	return fmt.Sprintf("runs/%s/%s", event.EventID, name)
}

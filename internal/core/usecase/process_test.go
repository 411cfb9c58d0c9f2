package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

type storeFake struct {
	mu        sync.Mutex
	claims    map[string]domain.ClaimState
	outcomes  map[string]domain.ProcessingOutcome
	completes   int
	releases    int
	claimErr    error
	completeErr error
	log         *[]string
}

func newStoreFake() *storeFake {
	return &storeFake{
		claims:   make(map[string]domain.ClaimState),
		outcomes: make(map[string]domain.ProcessingOutcome),
	}
}

func (f *storeFake) Claim(_ context.Context, eventID string) (domain.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return domain.ClaimResult{}, f.claimErr
	}
	switch f.claims[eventID] {
	case domain.ClaimInFlight:
		return domain.ClaimResult{State: domain.ClaimInFlight}, nil
	case domain.ClaimTerminal:
		outcome := f.outcomes[eventID]
		return domain.ClaimResult{State: domain.ClaimTerminal, Outcome: &outcome}, nil
	}
	f.claims[eventID] = domain.ClaimInFlight
	return domain.ClaimResult{State: domain.ClaimAcquired}, nil
}

func (f *storeFake) Complete(_ context.Context, eventID string, outcome domain.ProcessingOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	f.claims[eventID] = domain.ClaimTerminal
	f.outcomes[eventID] = outcome
	f.completes++
	if f.log != nil {
		*f.log = append(*f.log, "complete")
	}
	return nil
}

func (f *storeFake) Release(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, eventID)
	f.releases++
	return nil
}

type fetcherFake struct {
	mu    sync.Mutex
	file  *domain.RawFile
	err   error
	calls int
	block chan struct{}
}

func (f *fetcherFake) Fetch(context.Context, domain.InvoiceEvent) (*domain.RawFile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.file, nil
}

type extractorFake struct {
	draft *domain.InvoiceDraft
	err   error
	calls int
}

func (f *extractorFake) Extract(context.Context, *domain.RawFile) (*domain.InvoiceDraft, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.draft, nil
}

type categorizerFake struct {
	decision domain.CategoryDecision
	err      error
	calls    int
}

func (f *categorizerFake) Categorize(context.Context, *domain.InvoiceDraft, []string, string) (domain.CategoryDecision, error) {
	f.calls++
	if f.err != nil {
		return domain.CategoryDecision{}, f.err
	}
	return f.decision, nil
}

type ledgerFake struct {
	mu    sync.Mutex
	ref   *domain.LedgerReference
	err   error
	calls int
}

func (f *ledgerFake) File(context.Context, *domain.InvoiceDraft, domain.CategoryDecision, *domain.RawFile) (*domain.LedgerReference, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.ref, nil
}

type notifierFake struct {
	mu       sync.Mutex
	payloads []domain.Notification
	err      error
	log      *[]string
}

func (f *notifierFake) Notify(_ context.Context, _ string, payload domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	if f.log != nil {
		*f.log = append(*f.log, "notify:"+string(payload.Phase))
	}
	return f.err
}

func testEvent() domain.InvoiceEvent {
	return domain.InvoiceEvent{
		EventID:          "E1",
		SourceRef:        "https://files.example.com/F123",
		ConversationRef:  "C42",
		DeclaredMIMEType: "application/pdf",
		DeclaredName:     "acme-march.pdf",
	}
}

func testDraft() *domain.InvoiceDraft {
	total := 1200.00
	issued := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &domain.InvoiceDraft{
		VendorName:  "Acme Co",
		TotalAmount: &total,
		Currency:    "USD",
		IssueDate:   &issued,
	}
}

func testOptions() Options {
	return Options{
		Admission: domain.AdmissionPolicy{
			AllowedMIMETypes: []string{"application/pdf"},
			MaxSizeBytes:     10 << 20,
		},
		AllowedCategories: []string{"Office Supplies", "Travel", "Utilities"},
		BusinessContext:   "a mobile app studio",
		Executor: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    3,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     2 * time.Millisecond,
			RetryMultiplier:     2,
			BreakerEnabled:      false,
		}),
	}
}

func TestProcessSuccessScenario(t *testing.T) {
	store := newStoreFake()
	fetcher := &fetcherFake{file: &domain.RawFile{Name: "acme-march.pdf", MIMEType: "application/pdf", Bytes: make([]byte, 50<<10)}}
	extractor := &extractorFake{draft: testDraft()}
	categorizer := &categorizerFake{decision: domain.CategoryDecision{Category: "Office Supplies", Rationale: "stationery vendor"}}
	ledger := &ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-42", URL: "https://ledger.example.com/BILL-42"}}
	notifier := &notifierFake{}

	uc := NewProcessInvoiceUseCase(store, fetcher, extractor, categorizer, ledger, notifier, testOptions())
	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", outcome.Status, outcome.ErrorSummary)
	}
	if outcome.Draft == nil || outcome.Draft.VendorName != "Acme Co" {
		t.Fatalf("expected extracted draft in outcome, got %+v", outcome.Draft)
	}
	if outcome.Category == nil || outcome.Category.Category != "Office Supplies" {
		t.Fatalf("expected category decision, got %+v", outcome.Category)
	}
	if outcome.Ledger == nil || outcome.Ledger.BillID != "BILL-42" {
		t.Fatalf("expected ledger reference, got %+v", outcome.Ledger)
	}
	if len(notifier.payloads) != 2 {
		t.Fatalf("expected exactly 2 notifications, got %d", len(notifier.payloads))
	}
	if notifier.payloads[0].Phase != domain.PhaseStarted || notifier.payloads[1].Phase != domain.PhaseSucceeded {
		t.Fatalf("unexpected notification phases: %+v", notifier.payloads)
	}
	if store.completes != 1 {
		t.Fatalf("expected 1 completion, got %d", store.completes)
	}
}

func TestProcessReturnsCachedOutcomeWithoutPortCalls(t *testing.T) {
	store := newStoreFake()
	cached := domain.ProcessingOutcome{
		EventID: "E1",
		Status:  domain.StatusSucceeded,
		Ledger:  &domain.LedgerReference{BillID: "BILL-42"},
	}
	store.claims["E1"] = domain.ClaimTerminal
	store.outcomes["E1"] = cached

	fetcher := &fetcherFake{}
	extractor := &extractorFake{}
	categorizer := &categorizerFake{}
	ledger := &ledgerFake{}
	notifier := &notifierFake{}

	uc := NewProcessInvoiceUseCase(store, fetcher, extractor, categorizer, ledger, notifier, testOptions())
	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != cached.Status || outcome.Ledger == nil || outcome.Ledger.BillID != "BILL-42" {
		t.Fatalf("expected cached outcome, got %+v", outcome)
	}
	if fetcher.calls+extractor.calls+categorizer.calls+ledger.calls != 0 {
		t.Fatalf("expected zero port calls on replay")
	}
	if len(notifier.payloads) != 0 {
		t.Fatalf("expected no notifications on replay, got %d", len(notifier.payloads))
	}
}

func TestProcessSkipsDuplicateInFlight(t *testing.T) {
	store := newStoreFake()
	store.claims["E1"] = domain.ClaimInFlight

	fetcher := &fetcherFake{}
	notifier := &notifierFake{}
	uc := NewProcessInvoiceUseCase(store, fetcher, &extractorFake{}, &categorizerFake{}, &ledgerFake{}, notifier, testOptions())

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusSkipped || outcome.SkipReason != domain.SkipDuplicateInFlight {
		t.Fatalf("expected duplicate-in-flight skip, got %+v", outcome)
	}
	if fetcher.calls != 0 || len(notifier.payloads) != 0 {
		t.Fatalf("expected no side effects for duplicate delivery")
	}
}

func TestProcessConcurrentDoubleDeliveryFilesOnce(t *testing.T) {
	store := newStoreFake()
	release := make(chan struct{})
	fetcher := &fetcherFake{
		file:  &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")},
		block: release,
	}
	ledger := &ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-1"}}
	uc := NewProcessInvoiceUseCase(
		store,
		fetcher,
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Travel"}},
		ledger,
		&notifierFake{},
		testOptions(),
	)

	outcomes := make(chan domain.ProcessingOutcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := uc.Process(context.Background(), testEvent())
			if err != nil {
				t.Errorf("Process() error = %v", err)
			}
			outcomes <- outcome
		}()
	}

	// Let the loser observe the in-flight claim before the winner finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(outcomes)

	var succeeded, skipped int
	for outcome := range outcomes {
		switch {
		case outcome.Status == domain.StatusSucceeded:
			succeeded++
		case outcome.Status == domain.StatusSkipped && outcome.SkipReason == domain.SkipDuplicateInFlight:
			skipped++
		default:
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	if succeeded != 1 || skipped != 1 {
		t.Fatalf("expected one success and one skip, got %d/%d", succeeded, skipped)
	}
	if ledger.calls != 1 {
		t.Fatalf("expected exactly one ledger call, got %d", ledger.calls)
	}
}

func TestCategorizerTransientFailureDegradesToUncategorized(t *testing.T) {
	store := newStoreFake()
	categorizer := &categorizerFake{err: domain.WrapError(domain.ErrTransient, "categorize", errors.New("rate limited"))}
	ledger := &ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-7"}}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		categorizer,
		ledger,
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Fatalf("expected success despite categorizer outage, got %s", outcome.Status)
	}
	if outcome.Category == nil || outcome.Category.Category != domain.CategoryUncategorized {
		t.Fatalf("expected uncategorized fallback, got %+v", outcome.Category)
	}
	if categorizer.calls != 3 {
		t.Fatalf("expected transient failure to be retried to exhaustion, got %d calls", categorizer.calls)
	}
	if ledger.calls != 1 {
		t.Fatalf("expected filing to proceed, got %d ledger calls", ledger.calls)
	}
}

func TestCategorizerPermanentFailureFailsStage(t *testing.T) {
	store := newStoreFake()
	categorizer := &categorizerFake{err: errors.New("model rejected input")}
	ledger := &ledgerFake{}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		categorizer,
		ledger,
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtCategorization {
		t.Fatalf("expected categorization failure, got %s", outcome.Status)
	}
	if outcome.Draft == nil {
		t.Fatalf("expected draft retained for operator visibility")
	}
	if categorizer.calls != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", categorizer.calls)
	}
	if ledger.calls != 0 {
		t.Fatalf("ledger must not run after categorization failure")
	}
}

func TestOutOfSetCategoryFailsStage(t *testing.T) {
	store := newStoreFake()
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Miscellaneous Fun"}},
		&ledgerFake{},
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtCategorization {
		t.Fatalf("expected out-of-set category to fail the stage, got %s", outcome.Status)
	}
}

func TestAdmissionRejectsBeforeAnyPortCall(t *testing.T) {
	store := newStoreFake()
	fetcher := &fetcherFake{}
	notifier := &notifierFake{}
	uc := NewProcessInvoiceUseCase(store, fetcher, &extractorFake{}, &categorizerFake{}, &ledgerFake{}, notifier, testOptions())

	event := testEvent()
	event.DeclaredMIMEType = "text/html"
	outcome, err := uc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtFetch {
		t.Fatalf("expected fetch-stage failure, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.ErrorSummary, "unsupported file type") {
		t.Fatalf("expected unsupported file type reason, got %q", outcome.ErrorSummary)
	}
	if fetcher.calls != 0 {
		t.Fatalf("fetch must not run for inadmissible declared type")
	}
	if len(notifier.payloads) != 2 || notifier.payloads[1].Phase != domain.PhaseFailed {
		t.Fatalf("expected started + failed notifications, got %+v", notifier.payloads)
	}
}

func TestExtractionPermanentFailureSkipsDownstream(t *testing.T) {
	store := newStoreFake()
	categorizer := &categorizerFake{}
	ledger := &ledgerFake{}
	notifier := &notifierFake{}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{err: errors.New("corrupt pdf")},
		categorizer,
		ledger,
		notifier,
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtExtraction {
		t.Fatalf("expected extraction failure, got %s", outcome.Status)
	}
	if categorizer.calls != 0 || ledger.calls != 0 {
		t.Fatalf("downstream stages must not run after extraction failure")
	}
	last := notifier.payloads[len(notifier.payloads)-1]
	if last.Stage != domain.StageExtraction {
		t.Fatalf("failure notification must name the Extraction stage, got %q", last.Stage)
	}
}

func TestZeroFieldDraftIsExtractionFailure(t *testing.T) {
	store := newStoreFake()
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: &domain.InvoiceDraft{}},
		&categorizerFake{},
		&ledgerFake{},
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtExtraction {
		t.Fatalf("expected empty draft to count as extraction failure, got %s", outcome.Status)
	}
}

func TestLedgerFailureRetainsDraftAndCategory(t *testing.T) {
	store := newStoreFake()
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Utilities"}},
		&ledgerFake{err: errors.New("validation rejected")},
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtLedger {
		t.Fatalf("expected ledger failure, got %s", outcome.Status)
	}
	if outcome.Draft == nil || outcome.Category == nil {
		t.Fatalf("expected draft and category retained, got %+v", outcome)
	}
}

func TestNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	store := newStoreFake()
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Travel"}},
		&ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-9"}},
		&notifierFake{err: errors.New("channel archived")},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusSucceeded {
		t.Fatalf("notification failure must not change the outcome, got %s", outcome.Status)
	}
}

func TestOutcomeRecordedBeforeTerminalNotification(t *testing.T) {
	var log []string
	store := newStoreFake()
	store.log = &log
	notifier := &notifierFake{log: &log}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Travel"}},
		&ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-3"}},
		notifier,
		testOptions(),
	)

	if _, err := uc.Process(context.Background(), testEvent()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	want := []string{"notify:started", "complete", "notify:succeeded"}
	if len(log) != len(want) {
		t.Fatalf("unexpected call sequence %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("unexpected call sequence %v, want %v", log, want)
		}
	}
}

func TestTransientLedgerFailureBoundedByConfiguredAttempts(t *testing.T) {
	store := newStoreFake()
	ledger := &ledgerFake{err: domain.WrapError(domain.ErrTransient, "file", errors.New("upstream 503"))}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Utilities"}},
		ledger,
		&notifierFake{},
		testOptions(),
	)

	outcome, err := uc.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtLedger {
		t.Fatalf("expected ledger failure, got %s", outcome.Status)
	}
	if ledger.calls != 3 {
		t.Fatalf("configured 3 attempts, ledger called %d times", ledger.calls)
	}
}

func TestAdmissionRejectsOversizedDeclaredFileBeforeFetch(t *testing.T) {
	store := newStoreFake()
	fetcher := &fetcherFake{}
	uc := NewProcessInvoiceUseCase(store, fetcher, &extractorFake{}, &categorizerFake{}, &ledgerFake{}, &notifierFake{}, testOptions())

	event := testEvent()
	event.DeclaredSizeBytes = 11 << 20

	outcome, err := uc.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if outcome.Status != domain.StatusFailedAtFetch {
		t.Fatalf("expected fetch-stage rejection, got %s", outcome.Status)
	}
	if !strings.Contains(outcome.ErrorSummary, "exceeds ceiling") {
		t.Fatalf("expected size-ceiling rejection, got %q", outcome.ErrorSummary)
	}
	if fetcher.calls != 0 {
		t.Fatalf("oversized declared file must be rejected before download, got %d fetch calls", fetcher.calls)
	}
}

func TestCompleteFailureKeepsClaimInFlight(t *testing.T) {
	store := newStoreFake()
	store.completeErr = errors.New("write conflict")
	notifier := &notifierFake{}
	uc := NewProcessInvoiceUseCase(
		store,
		&fetcherFake{file: &domain.RawFile{Name: "a.pdf", MIMEType: "application/pdf", Bytes: []byte("%PDF-1.4")}},
		&extractorFake{draft: testDraft()},
		&categorizerFake{decision: domain.CategoryDecision{Category: "Travel"}},
		&ledgerFake{ref: &domain.LedgerReference{BillID: "BILL-5"}},
		notifier,
		testOptions(),
	)

	_, err := uc.Process(context.Background(), testEvent())
	if err == nil {
		t.Fatalf("expected Complete failure to surface")
	}
	if store.releases != 0 {
		t.Fatalf("claim must stay in flight after a failed Complete, got %d releases", store.releases)
	}
	if store.claims["E1"] != domain.ClaimInFlight {
		t.Fatalf("expected claim still in flight, got %v", store.claims["E1"])
	}
	for _, payload := range notifier.payloads {
		if payload.Phase != domain.PhaseStarted {
			t.Fatalf("terminal notification must wait for a recorded outcome, got phase %s", payload.Phase)
		}
	}
}

func TestMalformedEventReturnsError(t *testing.T) {
	uc := NewProcessInvoiceUseCase(newStoreFake(), &fetcherFake{}, &extractorFake{}, &categorizerFake{}, &ledgerFake{}, &notifierFake{}, testOptions())

	_, err := uc.Process(context.Background(), domain.InvoiceEvent{ConversationRef: "C1"})
	if !domain.IsKind(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected malformed event error, got %v", err)
	}
}

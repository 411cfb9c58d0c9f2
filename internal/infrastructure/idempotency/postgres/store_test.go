package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

func TestClaimAcquiresFreshEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewStore(db, time.Minute)
	mock.ExpectExec("INSERT INTO invoice_runs").
		WithArgs("E1", stateInFlight, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := store.Claim(context.Background(), "E1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.State != domain.ClaimAcquired {
		t.Fatalf("expected acquired, got %s", res.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimReturnsCachedOutcomeForTerminalRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewStore(db, time.Minute)
	mock.ExpectExec("INSERT INTO invoice_runs").
		WithArgs("E1", stateInFlight, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	outcome := []byte(`{"event_id":"E1","status":"succeeded"}`)
	rows := sqlmock.NewRows([]string{"state", "outcome", "claimed_at"}).
		AddRow(stateTerminal, outcome, time.Now())
	mock.ExpectQuery("SELECT state, outcome, claimed_at FROM invoice_runs").
		WithArgs("E1").
		WillReturnRows(rows)

	res, err := store.Claim(context.Background(), "E1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.State != domain.ClaimTerminal || res.Outcome == nil || res.Outcome.Status != domain.StatusSucceeded {
		t.Fatalf("expected cached terminal outcome, got %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimRespectsLiveInFlightLease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewStore(db, time.Minute)
	mock.ExpectExec("INSERT INTO invoice_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"state", "outcome", "claimed_at"}).
		AddRow(stateInFlight, nil, time.Now())
	mock.ExpectQuery("SELECT state, outcome, claimed_at FROM invoice_runs").
		WillReturnRows(rows)

	res, err := store.Claim(context.Background(), "E1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.State != domain.ClaimInFlight {
		t.Fatalf("expected in-flight, got %s", res.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestClaimTakesOverExpiredLease(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewStore(db, time.Minute)
	mock.ExpectExec("INSERT INTO invoice_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"state", "outcome", "claimed_at"}).
		AddRow(stateInFlight, nil, time.Now().Add(-time.Hour))
	mock.ExpectQuery("SELECT state, outcome, claimed_at FROM invoice_runs").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE invoice_runs SET claimed_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := store.Claim(context.Background(), "E1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if res.State != domain.ClaimAcquired {
		t.Fatalf("expected takeover of expired claim, got %s", res.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteRequiresClaimRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	store := NewStore(db, time.Minute)
	mock.ExpectExec("UPDATE invoice_runs SET state").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Complete(context.Background(), "missing", domain.ProcessingOutcome{Status: domain.StatusSucceeded})
	if err == nil {
		t.Fatalf("expected error when no claim row exists")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

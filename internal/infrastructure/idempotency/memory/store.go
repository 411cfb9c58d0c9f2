package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

type record struct {
	state     domain.ClaimState
	claimedAt time.Time
	outcome   domain.ProcessingOutcome
}

// Store is a process-scoped idempotency store for single-instance
// deployments. An in-flight claim left behind by a crash expires after the
// lease duration and becomes claimable again.
type Store struct {
	lease time.Duration
	now   func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

func New(lease time.Duration) *Store {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Store{
		lease:   lease,
		now:     time.Now,
		records: make(map[string]*record),
	}
}

func (s *Store) Claim(_ context.Context, eventID string) (domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[eventID]
	if !ok {
		s.records[eventID] = &record{state: domain.ClaimInFlight, claimedAt: now}
		return domain.ClaimResult{State: domain.ClaimAcquired}, nil
	}

	switch rec.state {
	case domain.ClaimTerminal:
		outcome := rec.outcome
		return domain.ClaimResult{State: domain.ClaimTerminal, Outcome: &outcome}, nil
	default:
		if now.Sub(rec.claimedAt) > s.lease {
			rec.claimedAt = now
			return domain.ClaimResult{State: domain.ClaimAcquired}, nil
		}
		return domain.ClaimResult{State: domain.ClaimInFlight}, nil
	}
}

func (s *Store) Complete(_ context.Context, eventID string, outcome domain.ProcessingOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[eventID] = &record{
		state:     domain.ClaimTerminal,
		claimedAt: s.now(),
		outcome:   outcome,
	}
	return nil
}

// Release clears an in-flight claim without recording an outcome. Terminal
// records are kept so replays keep returning the cached outcome.
func (s *Store) Release(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[eventID]; ok && rec.state != domain.ClaimTerminal {
		delete(s.records, eventID)
	}
	return nil
}

package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lumaops/provisioner/pkg/engine"
)

// MemoryStore is an in-process StateTracker. State is lost on exit; it backs
// tests and single-shot local runs.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*engine.ProvisioningState
	now    func() time.Time
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*engine.ProvisioningState),
		now:    time.Now,
	}
}

// WithClock replaces the store clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Get returns a copy of the client state.
func (s *MemoryStore) Get(_ context.Context, clientID string) (*engine.ProvisioningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[clientID]
	if !ok {
		return nil, engine.ErrStateNotFound
	}
	return st.Clone(), nil
}

// Claim acquires the client claim.
func (s *MemoryStore) Claim(_ context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st, ok := s.states[clientID]
	if !ok {
		st = engine.NewProvisioningState(clientID, now)
	} else {
		st = st.Clone()
	}
	if st.Status == engine.StatusCompleted {
		return st, nil
	}
	if err := applyClaim(st, clientID, claimID, ttl, now); err != nil {
		return nil, err
	}
	s.states[clientID] = st
	return st.Clone(), nil
}

// WriteStep records a step outcome for the claim holder.
func (s *MemoryStore) WriteStep(_ context.Context, clientID, claimID string, step engine.Step, outcome engine.StepOutcome, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyWriteStep(st, claimID, step, outcome, ttl, now)
	})
}

// Renew extends the lease of the claim holder.
func (s *MemoryStore) Renew(_ context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyRenew(st, claimID, ttl, now)
	})
}

// Finalize marks the client completed.
func (s *MemoryStore) Finalize(_ context.Context, clientID, claimID string) (*engine.ProvisioningState, error) {
	return s.mutate(clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyFinalize(st, claimID, now)
	})
}

// Reset clears flags from the given step onward.
func (s *MemoryStore) Reset(_ context.Context, clientID string, from engine.Step) (*engine.ProvisioningState, error) {
	return s.mutate(clientID, func(st *engine.ProvisioningState, now time.Time) error {
		return applyReset(st, from, now)
	})
}

// List returns client states ordered by client ID.
func (s *MemoryStore) List(_ context.Context, status engine.Status) ([]*engine.ProvisioningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*engine.ProvisioningState, 0, len(s.states))
	for _, st := range s.states {
		if status == "" || st.Status == status {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (s *MemoryStore) mutate(clientID string, fn func(*engine.ProvisioningState, time.Time) error) (*engine.ProvisioningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[clientID]
	if !ok {
		return nil, engine.ErrStateNotFound
	}
	st = st.Clone()
	if err := fn(st, s.now()); err != nil {
		return nil, err
	}
	s.states[clientID] = st
	return st.Clone(), nil
}

var _ engine.StateTracker = (*MemoryStore)(nil)

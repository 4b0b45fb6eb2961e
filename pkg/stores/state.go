package stores

import (
	"fmt"
	"time"

	"github.com/lumaops/provisioner/pkg/engine"
)

// The mutations below are shared by every StateTracker backend. Each backend
// loads the current record inside its own transaction, applies one of these,
// and writes the result back.

func applyClaim(st *engine.ProvisioningState, clientID, claimID string, ttl time.Duration, now time.Time) error {
	if st.ClaimLive(claimID, now) {
		return engine.NewClaimConflictError("client is claimed by another run", nil).
			WithResource(clientID).WithCode(st.ClaimID)
	}
	exp := now.Add(ttl)
	st.ClaimID = claimID
	st.ClaimExpiresAt = &exp
	st.Attempts++
	st.Status = engine.StatusInProgress
	touch(st, now)
	return nil
}

func applyWriteStep(st *engine.ProvisioningState, claimID string, step engine.Step, outcome engine.StepOutcome, ttl time.Duration, now time.Time) error {
	if err := step.Validate(); err != nil {
		return err
	}
	if st.ClaimID != claimID {
		return engine.ErrClaimLost
	}
	if outcome.At.IsZero() {
		outcome.At = now
	}
	st.ApplyOutcome(step, outcome)
	if outcome.Err == nil {
		exp := now.Add(ttl)
		st.ClaimExpiresAt = &exp
	}
	touch(st, now)
	return nil
}

func applyRenew(st *engine.ProvisioningState, claimID string, ttl time.Duration, now time.Time) error {
	if st.ClaimID != claimID {
		return engine.ErrClaimLost
	}
	exp := now.Add(ttl)
	st.ClaimExpiresAt = &exp
	touch(st, now)
	return nil
}

func applyFinalize(st *engine.ProvisioningState, claimID string, now time.Time) error {
	if st.ClaimID != claimID {
		return engine.ErrClaimLost
	}
	if next := st.NextStep(); next != "" {
		return fmt.Errorf("cannot finalize client %s: step %s not done", st.ClientID, next)
	}
	st.Status = engine.StatusCompleted
	st.ClaimID = ""
	st.ClaimExpiresAt = nil
	st.LastError = nil
	touch(st, now)
	return nil
}

func applyReset(st *engine.ProvisioningState, from engine.Step, now time.Time) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if st.ClaimLive("", now) {
		return engine.NewClaimConflictError("cannot reset a client while a run holds its claim", nil).
			WithResource(st.ClientID)
	}
	st.ResetFrom(from)
	touch(st, now)
	return nil
}

func touch(st *engine.ProvisioningState, now time.Time) {
	st.Version++
	st.UpdatedAt = now
}

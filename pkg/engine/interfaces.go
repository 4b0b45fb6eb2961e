package engine

import (
	"context"
	"time"
)

// StateTracker persists per-client provisioning progress and serializes runs
// for the same client through a leased claim.
type StateTracker interface {
	// Get returns the state of a client, or ErrStateNotFound.
	Get(ctx context.Context, clientID string) (*ProvisioningState, error)

	// Claim acquires the per-client claim for claimID with a lease of ttl,
	// creating the state if absent. A Completed state is returned unchanged
	// without claiming. Returns a ClaimConflict error when another unexpired
	// claim is held.
	Claim(ctx context.Context, clientID, claimID string, ttl time.Duration) (*ProvisioningState, error)

	// WriteStep records a step outcome, conditional on claimID still holding
	// the claim, and extends the lease by ttl. Returns ErrClaimLost otherwise.
	WriteStep(ctx context.Context, clientID, claimID string, step Step, outcome StepOutcome, ttl time.Duration) (*ProvisioningState, error)

	// Renew extends the lease of claimID by ttl without recording anything.
	// Returns ErrClaimLost when claimID no longer holds the claim.
	Renew(ctx context.Context, clientID, claimID string, ttl time.Duration) (*ProvisioningState, error)

	// Finalize marks the client Completed and releases the claim.
	// Returns ErrClaimLost when claimID no longer holds the claim.
	Finalize(ctx context.Context, clientID, claimID string) (*ProvisioningState, error)

	// Reset clears every flag from the given step onward and returns the
	// client to Pending. Reserved for explicit operator re-provisioning.
	Reset(ctx context.Context, clientID string, from Step) (*ProvisioningState, error)

	// List returns the states with the given status, or all states when
	// status is empty.
	List(ctx context.Context, status Status) ([]*ProvisioningState, error)
}

// StepRunner performs one workflow step. Implementations must check for the
// resource before creating it and must be safe to re-run after a crash.
type StepRunner interface {
	// Step returns the workflow step this runner performs.
	Step() Step

	// Run performs the step for the record. Errors must be classified.
	Run(ctx context.Context, rec *ClientRecord) error
}

// RecordSource fetches client records by identifier.
type RecordSource interface {
	// GetClient returns the record, or ErrRecordNotFound.
	GetClient(ctx context.Context, clientID string) (*ClientRecord, error)
}

// Admitter decides whether a record may be provisioned at all.
type Admitter interface {
	// Admit returns a ValidationError when the record is rejected.
	Admit(ctx context.Context, rec *ClientRecord) error
}

// Observer receives workflow lifecycle notifications. Metrics and tracing
// hook in through this interface.
type Observer interface {
	RunStarted(ctx context.Context, clientID string) context.Context
	RunFinished(ctx context.Context, clientID string, outcome string, err error, elapsed time.Duration)
	StepStarted(ctx context.Context, clientID string, step Step) context.Context
	StepFinished(ctx context.Context, clientID string, step Step, err error, elapsed time.Duration)
	StuckClient(clientID string, attempts int)
}

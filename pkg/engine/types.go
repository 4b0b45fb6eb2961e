package engine

import (
	"time"
)

// ClientRecord is the onboarding record of a client as written by the
// onboarding system. It is treated as immutable input.
type ClientRecord struct {
	// ID is the record identifier, also used as the provisioning state key.
	ID string `json:"id" firestore:"-" validate:"required,max=1500"`

	// Slug is the short client identifier used as the manifest key.
	Slug string `json:"slug" firestore:"slug" validate:"required,slug"`

	// Name is the human readable client name. Optional.
	Name string `json:"name,omitempty" firestore:"name,omitempty" validate:"max=200"`

	// BusinessID is the advertising business identifier, a decimal string.
	BusinessID string `json:"business_id" firestore:"business_id" validate:"required,numeric_id"`

	// ProjectID is the target cloud project identifier.
	ProjectID string `json:"project_id" firestore:"project_id" validate:"required,project_id"`

	// GoogleAdsCustomerID is the optional ads customer identifier.
	GoogleAdsCustomerID *string `json:"google_ads_customer_id" firestore:"google_ads_customer_id" validate:"omitempty,max=64"`

	CreatedAt time.Time `json:"created_at,omitempty" firestore:"created_at,omitempty"`
	CreatedBy string    `json:"created_by,omitempty" firestore:"created_by,omitempty"`
}

// StepFlag is the persisted completion marker of one step.
type StepFlag struct {
	Done bool       `json:"done"`
	At   *time.Time `json:"at,omitempty"`
}

// LastError is the classified failure recorded for the most recent failed run.
type LastError struct {
	Step    Step       `json:"step"`
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// ProvisioningState is the durable progress record of one client.
type ProvisioningState struct {
	ClientID  string            `json:"client_id"`
	Steps     map[Step]StepFlag `json:"steps"`
	Status    Status            `json:"status"`
	LastError *LastError        `json:"last_error,omitempty"`

	// ClaimID identifies the run currently holding the per-client claim.
	ClaimID        string     `json:"claim_id,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`

	// Attempts counts the claimed runs for this client.
	Attempts int `json:"attempts"`

	// Version increments on every write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewProvisioningState returns a pending state with every flag unset.
func NewProvisioningState(clientID string, now time.Time) *ProvisioningState {
	return &ProvisioningState{
		ClientID:  clientID,
		Steps:     make(map[Step]StepFlag, len(Steps)),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the step flag is set.
func (s *ProvisioningState) Done(step Step) bool {
	if s == nil || s.Steps == nil {
		return false
	}
	return s.Steps[step].Done
}

// NextStep returns the first step whose flag is unset, or "" when all are set.
func (s *ProvisioningState) NextStep() Step {
	for _, step := range Steps {
		if !s.Done(step) {
			return step
		}
	}
	return ""
}

// AllDone reports whether every step flag is set.
func (s *ProvisioningState) AllDone() bool {
	return s.NextStep() == ""
}

// ClaimLive reports whether a claim other than claimID is held and unexpired at now.
func (s *ProvisioningState) ClaimLive(claimID string, now time.Time) bool {
	if s.ClaimID == "" || s.ClaimID == claimID {
		return false
	}
	return s.ClaimExpiresAt != nil && s.ClaimExpiresAt.After(now)
}

// Clone returns a deep copy of the state.
func (s *ProvisioningState) Clone() *ProvisioningState {
	if s == nil {
		return nil
	}
	c := *s
	c.Steps = make(map[Step]StepFlag, len(s.Steps))
	for k, v := range s.Steps {
		if v.At != nil {
			at := *v.At
			v.At = &at
		}
		c.Steps[k] = v
	}
	if s.LastError != nil {
		le := *s.LastError
		c.LastError = &le
	}
	if s.ClaimExpiresAt != nil {
		exp := *s.ClaimExpiresAt
		c.ClaimExpiresAt = &exp
	}
	return &c
}

// StepOutcome is what a run persists after executing a step.
type StepOutcome struct {
	// Err is nil on success. A non-nil Err marks the run failed.
	Err error
	At  time.Time
}

// ApplyOutcome mutates the state the way every tracker implementation must:
// flags only move from unset to set, a failure records LastError, sets
// StatusFailed and releases the claim.
func (s *ProvisioningState) ApplyOutcome(step Step, outcome StepOutcome) {
	if s.Steps == nil {
		s.Steps = make(map[Step]StepFlag, len(Steps))
	}
	if outcome.Err == nil {
		if !s.Steps[step].Done {
			at := outcome.At
			s.Steps[step] = StepFlag{Done: true, At: &at}
		}
		s.LastError = nil
		return
	}
	s.LastError = &LastError{
		Step:    step,
		Class:   ClassOf(outcome.Err),
		Message: outcome.Err.Error(),
		At:      outcome.At,
	}
	s.Status = StatusFailed
	s.ClaimID = ""
	s.ClaimExpiresAt = nil
}

// ResetFrom clears every flag at or after from. It is the only operation that
// unsets flags and is reserved for explicit operator re-provisioning.
func (s *ProvisioningState) ResetFrom(from Step) {
	idx := from.Index()
	if idx < 0 {
		return
	}
	for _, step := range Steps[idx:] {
		delete(s.Steps, step)
	}
	s.Status = StatusPending
	s.LastError = nil
	s.ClaimID = ""
	s.ClaimExpiresAt = nil
	s.Attempts = 0
}

package engine

import (
	"fmt"
)

// Status represents the overall provisioning status of a client.
type Status string

const (
	// StatusPending indicates the client is known but no run has claimed it yet.
	StatusPending Status = "pending"

	// StatusInProgress indicates a run currently holds (or recently held) the claim.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates every step succeeded. Completed is terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the last run stopped on a classified error.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status can only be left through an operator reset.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted
}

// IsRunnable returns true if a new run may claim a client in this status.
func (s Status) IsRunnable() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid provisioning status: %s", s)
	}
}

// Step names one unit of the provisioning workflow. The string values are
// the persisted flag names.
type Step string

const (
	StepProjectCreated      Step = "project_created"
	StepBillingLinked       Step = "billing_linked"
	StepCapabilitiesEnabled Step = "capabilities_enabled"
	StepDatasetCreated      Step = "dataset_created"
	StepManifestUpdated     Step = "manifest_updated"
)

// Steps is the fixed execution order of the workflow.
var Steps = []Step{
	StepProjectCreated,
	StepBillingLinked,
	StepCapabilitiesEnabled,
	StepDatasetCreated,
	StepManifestUpdated,
}

// Index returns the position of the step in the workflow, or -1.
func (s Step) Index() int {
	for i, step := range Steps {
		if step == s {
			return i
		}
	}
	return -1
}

// Validate checks if the step is one of the workflow steps.
func (s Step) Validate() error {
	if s.Index() < 0 {
		return fmt.Errorf("invalid provisioning step: %s", s)
	}
	return nil
}

// ParseStep converts a string into a Step.
func ParseStep(v string) (Step, error) {
	s := Step(v)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

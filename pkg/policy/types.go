package policy

import (
	"time"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks provisioning of the client.
	SeverityError Severity = "error"

	// SeverityCritical blocks provisioning and should page someone.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies admission.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one Rego module. Its package must define a "deny" set whose
// members are messages or objects with "message" and optional "severity".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies compiled into the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	ClientID string   `json:"client_id,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating every enabled policy against a record.
type Decision struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations and evaluation failures.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as "input".
type Input struct {
	Client  *engine.ClientRecord `json:"client"`
	Context InputContext         `json:"context"`
}

// InputContext carries evaluation metadata.
type InputContext struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}

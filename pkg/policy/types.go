package policy

import (
	"time"

	"github.com/openconform/openconform/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed but do not
	// block a deployment.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a deployment.
	SeverityError Severity = "error"

	// SeverityCritical is for severe violations that block a deployment.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the deployment.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Builtin marks policies shipped with the engine; they survive user
	// policy reloads.
	Builtin bool `json:"builtin,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation raised against a plan.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// PlanID is the plan that violated the policy.
	PlanID string `json:"plan_id,omitempty"`

	// DeviceID is the offending device, when the violation is scoped to
	// one plan entry.
	DeviceID string `json:"device_id,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`

	// DetectedAt is when the violation was detected.
	DetectedAt time.Time `json:"detected_at"`
}

// GateResult represents the outcome of evaluating a plan against the gate.
type GateResult struct {
	// Allowed indicates if the deployment may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations (severity error or critical).
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations (severity info or warning).
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// GateInput is the document handed to Rego policies as input.
type GateInput struct {
	// Plan is the config plan being deployed.
	Plan *engine.ConfigPlan `json:"plan"`

	// Options are the deployment options the caller supplied.
	Options *engine.DeployOptions `json:"options,omitempty"`

	// Context provides gate-level evaluation context.
	Context *GateContext `json:"context"`
}

// GateContext provides context information for policy evaluation. The field
// names here are part of the policy authoring contract; renaming one breaks
// user .rego files.
type GateContext struct {
	// User is the user initiating the deployment.
	User string `json:"user,omitempty"`

	// Environment is the deployment environment (e.g., "production").
	Environment string `json:"environment,omitempty"`

	// DryRun indicates the deployment touches no device.
	DryRun bool `json:"dry_run"`

	// MaintenanceWindow indicates an active maintenance window, relaxing
	// the reload restriction.
	MaintenanceWindow bool `json:"maintenance_window"`

	// MaxPlanEntries is the configured blast-radius cap. Zero disables it.
	MaxPlanEntries int `json:"max_plan_entries"`

	// BlastRadiusOverride acknowledges an oversized plan explicitly.
	BlastRadiusOverride bool `json:"blast_radius_override"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

package engine

import (
	"encoding/json"
	"fmt"
)

// JobStatus represents the status of a single deployment job.
type JobStatus string

const (
	// JobStatusPending indicates the job is queued but not yet started.
	JobStatusPending JobStatus = "pending"

	// JobStatusInProgress indicates the job is currently pushing commands.
	JobStatusInProgress JobStatus = "in_progress"

	// JobStatusSucceeded indicates every command was accepted by the device.
	JobStatusSucceeded JobStatus = "succeeded"

	// JobStatusFailed indicates the job failed after exhausting retries.
	JobStatusFailed JobStatus = "failed"

	// JobStatusCancelled indicates the job was cancelled before its commands ran.
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the job status represents a final state.
// Terminal states never transition.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// IsActive returns true if the job is currently active (pending or in progress).
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

// Validate checks if the job status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusSucceeded,
		JobStatusFailed, JobStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = JobStatus(str)
	return s.Validate()
}

// PlanType represents the command-set source for a config plan.
type PlanType string

const (
	// PlanTypeRemediation takes each device's latest remediation commands.
	PlanTypeRemediation PlanType = "remediation"

	// PlanTypeIntended takes each device's intended configuration as-is.
	PlanTypeIntended PlanType = "intended"

	// PlanTypeMissing takes only features whose intended config is entirely
	// absent from the device.
	PlanTypeMissing PlanType = "missing"

	// PlanTypeManual takes a caller-supplied literal command set, applied
	// identically to every matched device.
	PlanTypeManual PlanType = "manual"

	// PlanTypeCombination merges remediation, missing, and manual sources in
	// that declared order.
	PlanTypeCombination PlanType = "combination"
)

// RequiresManualCommands returns true if the plan type needs a caller-supplied
// command list.
func (t PlanType) RequiresManualCommands() bool {
	return t == PlanTypeManual
}

// Validate checks if the plan type is valid.
func (t PlanType) Validate() error {
	switch t {
	case PlanTypeRemediation, PlanTypeIntended, PlanTypeMissing,
		PlanTypeManual, PlanTypeCombination:
		return nil
	default:
		return fmt.Errorf("invalid plan type: %s", t)
	}
}

// PlanState represents the lifecycle state of a config plan.
type PlanState string

const (
	// PlanStatePendingApproval indicates the plan lacks an approved change
	// control reference and cannot be deployed yet.
	PlanStatePendingApproval PlanState = "pending_approval"

	// PlanStateApproved indicates the plan is ready to deploy.
	PlanStateApproved PlanState = "approved"

	// PlanStateInProgress indicates a deployment of the plan is running.
	PlanStateInProgress PlanState = "in_progress"

	// PlanStateCompleted indicates a deployment of the plan has finished.
	PlanStateCompleted PlanState = "completed"

	// PlanStateCancelled indicates the plan was withdrawn before deployment.
	PlanStateCancelled PlanState = "cancelled"
)

// IsDeployable returns true if a deployment may be started from this state.
func (s PlanState) IsDeployable() bool {
	return s == PlanStateApproved
}

// Validate checks if the plan state is valid.
func (s PlanState) Validate() error {
	switch s {
	case PlanStatePendingApproval, PlanStateApproved, PlanStateInProgress,
		PlanStateCompleted, PlanStateCancelled:
		return nil
	default:
		return fmt.Errorf("invalid plan state: %s", s)
	}
}

// PlanOutcome represents the aggregate result of deploying a plan.
type PlanOutcome string

const (
	// OutcomeSucceeded indicates every entry's job succeeded.
	OutcomeSucceeded PlanOutcome = "succeeded"

	// OutcomePartial indicates a mixed set of succeeded and failed jobs.
	OutcomePartial PlanOutcome = "partial"

	// OutcomeFailed indicates every entry's job failed.
	OutcomeFailed PlanOutcome = "failed"

	// OutcomeCancelled indicates every entry's job was cancelled before running.
	OutcomeCancelled PlanOutcome = "cancelled"
)

// Validate checks if the plan outcome is valid.
func (o PlanOutcome) Validate() error {
	switch o {
	case OutcomeSucceeded, OutcomePartial, OutcomeFailed, OutcomeCancelled:
		return nil
	default:
		return fmt.Errorf("invalid plan outcome: %s", o)
	}
}

// StrategyKind selects the comparison strategy for a config feature.
type StrategyKind string

const (
	// StrategyCLI treats each side as an ordered sequence of configuration
	// lines and computes a line-level edit script.
	StrategyCLI StrategyKind = "cli"

	// StrategyJSON recursively compares two structured documents key by key.
	StrategyJSON StrategyKind = "json"

	// StrategyCustom delegates to an externally supplied comparison function.
	StrategyCustom StrategyKind = "custom"
)

// Validate checks if the strategy kind is valid.
func (k StrategyKind) Validate() error {
	switch k {
	case StrategyCLI, StrategyJSON, StrategyCustom:
		return nil
	default:
		return fmt.Errorf("invalid strategy kind: %s", k)
	}
}

// DiffAction represents the kind of difference recorded for one diff element.
type DiffAction string

const (
	// DiffActionAdded indicates the element is required by intended but absent
	// from actual.
	DiffActionAdded DiffAction = "added"

	// DiffActionRemoved indicates the element is present on the device but not
	// in intended.
	DiffActionRemoved DiffAction = "removed"

	// DiffActionChanged indicates the element exists on both sides with
	// different values. Structural strategy only.
	DiffActionChanged DiffAction = "changed"
)

// Validate checks if the diff action is valid.
func (a DiffAction) Validate() error {
	switch a {
	case DiffActionAdded, DiffActionRemoved, DiffActionChanged:
		return nil
	default:
		return fmt.Errorf("invalid diff action: %s", a)
	}
}

// ComplianceState represents the recorded compliance state of a
// (device, feature) pair.
type ComplianceState string

const (
	// ComplianceStateCompliant indicates actual matches intended.
	ComplianceStateCompliant ComplianceState = "compliant"

	// ComplianceStateNonCompliant indicates a non-empty diff.
	ComplianceStateNonCompliant ComplianceState = "non_compliant"

	// ComplianceStateMissing indicates the actual configuration was never
	// captured. The diff engine is not invoked for this state.
	ComplianceStateMissing ComplianceState = "missing"
)

// Validate checks if the compliance state is valid.
func (s ComplianceState) Validate() error {
	switch s {
	case ComplianceStateCompliant, ComplianceStateNonCompliant, ComplianceStateMissing:
		return nil
	default:
		return fmt.Errorf("invalid compliance state: %s", s)
	}
}

// DeviceStatus represents the operational status of a device in the inventory.
type DeviceStatus string

const (
	// DeviceStatusActive indicates the device is in service.
	DeviceStatusActive DeviceStatus = "active"

	// DeviceStatusPlanned indicates the device is not yet deployed.
	DeviceStatusPlanned DeviceStatus = "planned"

	// DeviceStatusMaintenance indicates the device is under maintenance.
	DeviceStatusMaintenance DeviceStatus = "maintenance"

	// DeviceStatusOffline indicates the device is unreachable by design.
	DeviceStatusOffline DeviceStatus = "offline"
)

// Validate checks if the device status is valid.
func (s DeviceStatus) Validate() error {
	switch s {
	case DeviceStatusActive, DeviceStatusPlanned, DeviceStatusMaintenance, DeviceStatusOffline:
		return nil
	default:
		return fmt.Errorf("invalid device status: %s", s)
	}
}

// EventType represents the type of event in the engine timeline.
type EventType string

const (
	// EventTypeDriftDetected indicates a non-compliant diff was computed.
	EventTypeDriftDetected EventType = "drift_detected"

	// EventTypeComplianceComputed indicates a compliance run finished.
	EventTypeComplianceComputed EventType = "compliance_computed"

	// EventTypePlanCreated indicates a config plan was built.
	EventTypePlanCreated EventType = "plan_created"

	// EventTypePlanApproved indicates a config plan was approved.
	EventTypePlanApproved EventType = "plan_approved"

	// EventTypeDeployStarted indicates a plan deployment has started.
	EventTypeDeployStarted EventType = "deploy_started"

	// EventTypeDeployCompleted indicates a plan deployment has completed.
	EventTypeDeployCompleted EventType = "deploy_completed"

	// EventTypeDeployFailed indicates a plan deployment has failed.
	EventTypeDeployFailed EventType = "deploy_failed"

	// EventTypeJobStarted indicates a device job was dispatched to a worker.
	EventTypeJobStarted EventType = "job_started"

	// EventTypeJobSucceeded indicates a device job completed successfully.
	EventTypeJobSucceeded EventType = "job_succeeded"

	// EventTypeJobFailed indicates a device job failed.
	EventTypeJobFailed EventType = "job_failed"

	// EventTypeJobRetried indicates a device job attempt failed with a
	// transient error and will be retried.
	EventTypeJobRetried EventType = "job_retried"

	// EventTypePolicyDenied indicates a deployment was blocked by policy.
	EventTypePolicyDenied EventType = "policy_denied"

	// EventTypeWarning indicates a non-fatal warning.
	EventTypeWarning EventType = "warning"
)

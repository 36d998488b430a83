package engine

import (
	"encoding/json"
	"time"
)

// Device represents a network device in the inventory.
// Devices are supplied externally and are immutable from the engine's
// perspective; the engine never mutates inventory state.
type Device struct {
	// ID is the unique identifier for this device.
	ID string `json:"id" yaml:"id"`

	// Name is the device hostname.
	Name string `json:"name" yaml:"name"`

	// Platform is the network OS identifier (e.g., "cisco_ios", "arista_eos").
	// It selects the diff strategy, remediation rules, and device driver.
	Platform string `json:"platform" yaml:"platform"`

	// DeviceType is the hardware model (e.g., "c9300-48p").
	DeviceType string `json:"device_type,omitempty" yaml:"device_type,omitempty"`

	// Location is the site or region the device belongs to.
	Location string `json:"location,omitempty" yaml:"location,omitempty"`

	// Role is the functional role (e.g., "access", "core", "edge").
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// Status is the operational status of the device.
	Status DeviceStatus `json:"status" yaml:"status"`

	// Tags are free-form labels for filtering.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Address is the management address used by the device driver.
	Address string `json:"address" yaml:"address"`

	// Port is the management port (default 22).
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// CreatedAt is when the device was first registered.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is when the device was last updated.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// LineRule is a single scrub rule applied to configuration text before
// comparison. With an empty Replace the matching line is removed entirely;
// otherwise the match is substituted (used for masking secrets).
type LineRule struct {
	// Pattern is the regular expression matched against each line.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Replace is the substitution text. Empty means delete the line.
	Replace string `json:"replace,omitempty" yaml:"replace,omitempty"`
}

// ConfigFeature is a named, orderable configuration section with an
// associated comparison strategy. Features are declared per platform in the
// rule definitions.
type ConfigFeature struct {
	// Name is the feature name (e.g., "interfaces", "ntp", "aaa").
	Name string `json:"name" yaml:"name" validate:"required"`

	// Platform is the network OS this feature definition applies to.
	Platform string `json:"platform" yaml:"platform" validate:"required"`

	// Strategy selects how intended and actual are compared.
	Strategy StrategyKind `json:"strategy" yaml:"strategy" validate:"required"`

	// Comparator names the registered comparison function for the custom
	// strategy. Ignored for cli and json strategies.
	Comparator string `json:"comparator,omitempty" yaml:"comparator,omitempty"`

	// MatchPatterns are section anchors used to extract this feature from a
	// full configuration (e.g., "^interface"). A line matching any pattern
	// starts a section; its indented children belong to it.
	MatchPatterns []string `json:"match_patterns,omitempty" yaml:"match_patterns,omitempty"`

	// OrderInsensitive marks sibling lines within a block as semantically
	// unordered. When set, siblings are sorted before comparison. Command
	// order is often significant on network devices, so this defaults off.
	OrderInsensitive bool `json:"order_insensitive,omitempty" yaml:"order_insensitive,omitempty"`

	// SetPaths lists structural key paths whose sequences are compared as
	// unordered collections. JSON strategy only.
	SetPaths []string `json:"set_paths,omitempty" yaml:"set_paths,omitempty"`

	// RemoveRules delete volatile lines before comparison.
	RemoveRules []LineRule `json:"remove_rules,omitempty" yaml:"remove_rules,omitempty"`

	// ReplaceRules mask secrets before comparison.
	ReplaceRules []LineRule `json:"replace_rules,omitempty" yaml:"replace_rules,omitempty"`
}

// ConfigSnapshot is one side of a comparison: the intended or actual
// configuration for a (device, feature) pair, captured at a point in time.
// Snapshots are produced and owned by external collaborators; the engine
// treats them as immutable inputs for the duration of one diff.
type ConfigSnapshot struct {
	// DeviceID is the device this snapshot belongs to.
	DeviceID string `json:"device_id"`

	// Feature is the config feature this snapshot covers.
	Feature string `json:"feature"`

	// Text is the raw configuration text. CLI and custom strategies.
	Text string `json:"text,omitempty"`

	// Document is the structured payload. JSON strategy.
	Document json.RawMessage `json:"document,omitempty"`

	// CapturedAt is the retrieval or generation timestamp.
	CapturedAt time.Time `json:"captured_at"`
}

// DiffEntry is one element of a compliance diff.
type DiffEntry struct {
	// Action classifies the difference.
	Action DiffAction `json:"action"`

	// Line is the configuration line with surrounding whitespace trimmed.
	// CLI strategy only.
	Line string `json:"line,omitempty"`

	// Indent is the line's original leading whitespace, kept so remediation
	// can re-emit the line at its source depth.
	Indent string `json:"indent,omitempty"`

	// Context is the chain of enclosing section lines, outermost first, as
	// they appear in the source document.
	Context []string `json:"context,omitempty"`

	// Path is the dotted key path. Structural strategy only.
	Path string `json:"path,omitempty"`

	// Before is the actual-side value for changed elements.
	Before interface{} `json:"before,omitempty"`

	// After is the intended-side value for changed elements.
	After interface{} `json:"after,omitempty"`
}

// ComplianceResult is the structured outcome of diffing intended against
// actual for one (device, feature) pair.
//
// Invariant: Compliant is true exactly when Added, Removed, and Changed are
// all empty.
type ComplianceResult struct {
	// DeviceID is the device that was diffed.
	DeviceID string `json:"device_id"`

	// Feature is the config feature that was diffed.
	Feature string `json:"feature"`

	// Strategy is the comparison strategy that produced this result.
	Strategy StrategyKind `json:"strategy"`

	// Compliant is true when the diff is empty.
	Compliant bool `json:"compliant"`

	// Added lists elements required by intended but absent from actual, in
	// intended-document order.
	Added []DiffEntry `json:"added,omitempty"`

	// Removed lists elements present on the device but not in intended, in
	// actual-document order.
	Removed []DiffEntry `json:"removed,omitempty"`

	// Changed lists elements present on both sides with different values.
	// Structural strategy only.
	Changed []DiffEntry `json:"changed,omitempty"`

	// Missing is the intended-only content rendered as configuration text
	// with its enclosing section lines.
	Missing string `json:"missing,omitempty"`

	// Extra is the actual-only content rendered as configuration text with
	// its enclosing section lines.
	Extra string `json:"extra,omitempty"`

	// Ordered is true when the shared lines appear in the same relative
	// order on both sides. Always true for a compliant order-sensitive diff.
	Ordered bool `json:"ordered"`

	// IntendedAbsent is true when no intended element is present in actual
	// at all. Drives missing-configs plans.
	IntendedAbsent bool `json:"intended_absent,omitempty"`

	// IntendedHash and ActualHash fingerprint the canonical inputs. The
	// store bumps Revision only when one of them changes.
	IntendedHash string `json:"intended_hash"`
	ActualHash   string `json:"actual_hash"`

	// Revision is a monotonically increasing counter bumped each time
	// intended or actual changes. Assigned by the store.
	Revision int64 `json:"revision"`

	// ComputedAt is when the diff was computed.
	ComputedAt time.Time `json:"computed_at"`
}

// State maps the result onto a recorded compliance state.
func (r *ComplianceResult) State() ComplianceState {
	if r.Compliant {
		return ComplianceStateCompliant
	}
	if r.IntendedAbsent {
		return ComplianceStateMissing
	}
	return ComplianceStateNonCompliant
}

// RemediationResult is the ordered command sequence derived from a
// ComplianceResult. Empty iff the input was compliant.
type RemediationResult struct {
	// DeviceID is the device the commands target.
	DeviceID string `json:"device_id"`

	// Feature is the config feature the commands cover.
	Feature string `json:"feature"`

	// Platform is the platform whose rules generated the commands.
	Platform string `json:"platform"`

	// Commands is the ordered command sequence. Parent context commands
	// precede their children.
	Commands []string `json:"commands"`

	// SourceRevision is the compliance revision the commands were derived
	// from. A plan built from a stale revision can be detected by comparing
	// this against the latest compliance record.
	SourceRevision int64 `json:"source_revision"`

	// GeneratedAt is when the commands were generated.
	GeneratedAt time.Time `json:"generated_at"`
}

// RemediationRule maps diff elements to command templates for one platform.
type RemediationRule struct {
	// Match is a regular expression tested against the diff element's line.
	Match string `json:"match" yaml:"match" validate:"required"`

	// AddCommand is the template emitted for elements missing from actual.
	// Regex group references ($1, $2, ...) expand from Match. Empty emits
	// the line itself.
	AddCommand string `json:"add_command,omitempty" yaml:"add_command,omitempty"`

	// RemoveCommand is the template emitted for elements present only on the
	// device. Empty emits the platform's negation prefix plus the line.
	RemoveCommand string `json:"remove_command,omitempty" yaml:"remove_command,omitempty"`
}

// PlatformRules is the per-platform rule set consumed by the remediation
// generator.
type PlatformRules struct {
	// Platform is the network OS these rules apply to.
	Platform string `json:"platform" yaml:"platform" validate:"required"`

	// NegatePrefix is prepended to a line to undo it (default "no ").
	NegatePrefix string `json:"negate_prefix,omitempty" yaml:"negate_prefix,omitempty"`

	// IdempotentPatterns list single-value commands where asserting the
	// intended value overwrites the running one, so no negation is emitted
	// when the same context holds both a removed and an added match.
	IdempotentPatterns []string `json:"idempotent_patterns,omitempty" yaml:"idempotent_patterns,omitempty"`

	// Rules map diff elements to commands. An element matching no rule fails
	// remediation for its feature.
	Rules []RemediationRule `json:"rules" yaml:"rules" validate:"required,dive"`
}

// DeviceFilter is a composable predicate over device attributes. Populated
// dimensions combine with logical AND; values within a single dimension
// combine with OR. An empty filter matches the whole inventory.
type DeviceFilter struct {
	// Names matches device hostnames.
	Names []string `json:"names,omitempty" yaml:"names,omitempty"`

	// IDs matches explicit device IDs.
	IDs []string `json:"ids,omitempty" yaml:"ids,omitempty"`

	// Locations matches sites or regions.
	Locations []string `json:"locations,omitempty" yaml:"locations,omitempty"`

	// Roles matches functional roles.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`

	// Platforms matches network OS identifiers.
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	// DeviceTypes matches hardware models.
	DeviceTypes []string `json:"device_types,omitempty" yaml:"device_types,omitempty"`

	// Tags matches devices carrying any of the given tags.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Statuses matches operational statuses.
	Statuses []DeviceStatus `json:"statuses,omitempty" yaml:"statuses,omitempty"`
}

// ConfigPlan is a named batch of per-device command sets awaiting deployment.
// The device filter is resolved to a concrete device set at creation time and
// never re-evaluated.
type ConfigPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Name is the human-readable plan name.
	Name string `json:"name"`

	// Type selects the command-set source.
	Type PlanType `json:"plan_type"`

	// Filter is the device filter snapshot the plan was built from.
	Filter DeviceFilter `json:"filter"`

	// Features lists the in-scope feature names. Empty means all features
	// with stored results.
	Features []string `json:"features,omitempty"`

	// ChangeControlID is an opaque change-control reference.
	ChangeControlID string `json:"change_control_id,omitempty"`

	// ChangeControlURL links to the change-control record.
	ChangeControlURL string `json:"change_control_url,omitempty"`

	// Status is the plan lifecycle state.
	Status PlanState `json:"status"`

	// CreatedBy is the user who requested the plan.
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`

	// Entries are the per-device command sets, ordered by device name.
	Entries []ConfigPlanEntry `json:"entries"`
}

// ConfigPlanEntry is one (device, ordered command set) pair belonging to a
// plan. Immutable after plan build except for its deployment status.
type ConfigPlanEntry struct {
	// ID is the unique identifier for this entry.
	ID string `json:"id"`

	// PlanID is the plan this entry belongs to.
	PlanID string `json:"plan_id"`

	// DeviceID is the target device.
	DeviceID string `json:"device_id"`

	// DeviceName is the target device's hostname, kept for display.
	DeviceName string `json:"device_name"`

	// Commands is the ordered command set to push.
	Commands []string `json:"commands"`

	// Status mirrors the latest deployment job for this entry.
	Status JobStatus `json:"status"`
}

// DeploymentJob is one attempt to push a plan entry's command set to its
// device. A job is terminal once it reaches succeeded, failed, or cancelled;
// it is never resumed, only retried as a new job.
type DeploymentJob struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`

	// PlanID is the plan being deployed.
	PlanID string `json:"plan_id"`

	// EntryID is the plan entry being pushed.
	EntryID string `json:"entry_id"`

	// DeviceID is the target device.
	DeviceID string `json:"device_id"`

	// Status is the job state.
	Status JobStatus `json:"status"`

	// Attempts counts connection attempts; Attempts-1 is the retry count.
	Attempts int `json:"attempts"`

	// Output is the captured device output, including partial output from a
	// failed command sequence.
	Output string `json:"output,omitempty"`

	// Error is the captured error text for failed jobs.
	Error string `json:"error,omitempty"`

	// StartedAt is when the job was dispatched to a worker.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the job reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Duration is FinishedAt - StartedAt.
	Duration time.Duration `json:"duration"`
}

// DeploymentSummary aggregates per-device job results into a plan-level
// outcome.
type DeploymentSummary struct {
	// PlanID is the plan that was deployed.
	PlanID string `json:"plan_id"`

	// Outcome is the aggregate plan result.
	Outcome PlanOutcome `json:"outcome"`

	// Total is the number of plan entries.
	Total int `json:"total"`

	// Succeeded, Failed, and Cancelled count terminal job states.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`

	// Retries is the total number of retry attempts across all jobs.
	Retries int `json:"retries"`

	// Jobs are the per-device job records, ordered by device name.
	Jobs []DeploymentJob `json:"jobs"`

	// Warnings carries non-blocking policy warnings raised before dispatch.
	Warnings []string `json:"warnings,omitempty"`

	// StartedAt is when dispatch began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the last job reached a terminal state.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is CompletedAt - StartedAt.
	Duration time.Duration `json:"duration"`
}

// Event represents a single event in the engine timeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// PlanID is the ID of the plan this event belongs to, if applicable.
	PlanID string `json:"plan_id,omitempty"`

	// JobID is the ID of the deployment job, if applicable.
	JobID string `json:"job_id,omitempty"`

	// DeviceID is the ID of the device, if applicable.
	DeviceID string `json:"device_id,omitempty"`

	// Feature is the config feature, if applicable.
	Feature string `json:"feature,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

// GoldenRecord tracks the config-management timestamps for one device:
// when backups, intended generation, and compliance runs last happened and
// last succeeded.
type GoldenRecord struct {
	// DeviceID is the device this record tracks.
	DeviceID string `json:"device_id"`

	// BackupLastAttempt and BackupLastSuccess track actual-config capture.
	BackupLastAttempt *time.Time `json:"backup_last_attempt,omitempty"`
	BackupLastSuccess *time.Time `json:"backup_last_success,omitempty"`

	// IntendedLastAttempt and IntendedLastSuccess track intended generation.
	IntendedLastAttempt *time.Time `json:"intended_last_attempt,omitempty"`
	IntendedLastSuccess *time.Time `json:"intended_last_success,omitempty"`

	// ComplianceLastAttempt and ComplianceLastSuccess track compliance runs.
	ComplianceLastAttempt *time.Time `json:"compliance_last_attempt,omitempty"`
	ComplianceLastSuccess *time.Time `json:"compliance_last_success,omitempty"`
}

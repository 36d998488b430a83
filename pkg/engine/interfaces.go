package engine

import (
	"context"
)

// Inventory resolves device filters against the device inventory.
// Implementations are injected into the components that need them; the
// engine defines no global registry.
type Inventory interface {
	// GetDevice retrieves a device by ID.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// ListDevices returns all devices matching the filter, ordered by name.
	// An empty filter returns the whole inventory. A filter matching nothing
	// returns an empty slice, not an error.
	ListDevices(ctx context.Context, filter *DeviceFilter) ([]*Device, error)
}

// ConfigSource supplies intended and actual configuration snapshots for
// (device, feature) pairs.
type ConfigSource interface {
	// GetIntended retrieves the intended configuration snapshot.
	GetIntended(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error)

	// GetActual retrieves the latest captured actual configuration snapshot.
	GetActual(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error)
}

// ResultSource supplies stored compliance and remediation results to the
// plan builder.
type ResultSource interface {
	// LatestCompliance returns the most recent compliance result for the
	// pair, or nil when none has been recorded.
	LatestCompliance(ctx context.Context, deviceID, feature string) (*ComplianceResult, error)

	// LatestRemediation returns the most recent remediation result for the
	// pair, or nil when none has been recorded.
	LatestRemediation(ctx context.Context, deviceID, feature string) (*RemediationResult, error)

	// ListFeatures returns the feature names with stored compliance results
	// for the device, sorted by name.
	ListFeatures(ctx context.Context, deviceID string) ([]string, error)
}

// DeviceDriver opens sessions to network devices. One driver instance
// serves one platform family; a DriverResolver picks the driver for a
// device.
type DeviceDriver interface {
	// Connect establishes a session to the device. The returned error
	// classifies the failure as transient or permanent.
	Connect(ctx context.Context, device *Device) (DeviceSession, error)
}

// DeviceSession is an open connection to one device. Sessions are not safe
// for concurrent use; the orchestrator drives each session from a single
// worker.
type DeviceSession interface {
	// PushCommands sends commands in order and returns the combined device
	// output. It stops at the first rejected command and returns the output
	// produced up to and including the failure.
	PushCommands(ctx context.Context, commands []string) (string, error)

	// FetchRunningConfig retrieves the device's running configuration.
	FetchRunningConfig(ctx context.Context) (string, error)

	// Close terminates the session.
	Close() error
}

// DriverResolver selects the device driver for a device. Resolution is by
// platform; an unknown platform is a permanent error.
type DriverResolver interface {
	Resolve(device *Device) (DeviceDriver, error)
}

// CompareFunc is a custom comparison strategy. It receives the canonical
// intended and actual forms produced by the normalizer and returns the raw
// diff; the diff engine derives Compliant, Missing, and Extra from it.
type CompareFunc func(ctx context.Context, intended, actual *ConfigSnapshot) (added, removed, changed []DiffEntry, err error)

// Differ computes a compliance result for one (device, feature) pair.
type Differ interface {
	Compare(ctx context.Context, device *Device, feature *ConfigFeature, intended, actual *ConfigSnapshot) (*ComplianceResult, error)
}

// PolicyGate evaluates a plan against deployment policy before dispatch.
// A denial aborts the whole deployment before any device is touched.
type PolicyGate interface {
	// CheckDeploy returns an error when policy denies the deployment.
	// Warnings are advisory and do not block.
	CheckDeploy(ctx context.Context, plan *ConfigPlan, opts *DeployOptions) (warnings []string, err error)
}

// JobRecorder persists deployment job transitions. Implementations must
// tolerate concurrent calls from multiple workers.
type JobRecorder interface {
	// RecordJob upserts the job record after each state transition.
	RecordJob(ctx context.Context, job *DeploymentJob) error

	// RecordSummary persists the final deployment summary.
	RecordSummary(ctx context.Context, summary *DeploymentSummary) error
}

// EventPublisher publishes engine lifecycle events to subscribers.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error

	// Subscribe subscribes to events matching a filter.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(ctx context.Context, subscriptionID string) error
}

// EventFilter represents criteria for filtering events.
type EventFilter struct {
	// PlanID filters events by plan ID.
	PlanID string `json:"plan_id,omitempty"`

	// DeviceID filters events by device ID.
	DeviceID string `json:"device_id,omitempty"`

	// Types filters events by type.
	Types []EventType `json:"types,omitempty"`

	// MinLevel filters events by minimum log level.
	MinLevel string `json:"min_level,omitempty"`
}

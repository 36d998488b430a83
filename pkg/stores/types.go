package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ConfigKind distinguishes the two sides of a comparison
type ConfigKind string

const (
	ConfigKindIntended ConfigKind = "intended"
	ConfigKindActual   ConfigKind = "actual"
)

// GoldenOperation names a tracked config-management operation
type GoldenOperation string

const (
	GoldenOpBackup     GoldenOperation = "backup"
	GoldenOpIntended   GoldenOperation = "intended"
	GoldenOpCompliance GoldenOperation = "compliance"
)

// DeviceRecord represents a device inventory row
type DeviceRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Platform   string    `json:"platform"`
	DeviceType string    `json:"device_type"`
	Location   string    `json:"location"`
	Role       string    `json:"role"`
	Status     string    `json:"status"`
	Tags       string    `json:"tags"` // JSON array
	Address    string    `json:"address"`
	Port       int       `json:"port"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ConfigRecord represents one stored configuration snapshot
type ConfigRecord struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Feature    string     `json:"feature"`
	Kind       ConfigKind `json:"kind"`
	Content    string     `json:"content"` // config text or canonical JSON
	Hash       string     `json:"hash"`    // SHA256 of content
	CapturedAt time.Time  `json:"captured_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ComplianceRecord represents one computed compliance result
type ComplianceRecord struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	Feature        string    `json:"feature"`
	Strategy       string    `json:"strategy"`
	State          string    `json:"state"` // compliant, non_compliant, missing
	Ordered        bool      `json:"ordered"`
	IntendedAbsent bool      `json:"intended_absent"`
	IntendedHash   string    `json:"intended_hash"`
	ActualHash     string    `json:"actual_hash"`
	Revision       int64     `json:"revision"`
	Result         string    `json:"result"` // JSON blob
	ComputedAt     time.Time `json:"computed_at"`
}

// RemediationRecord represents one generated remediation command set
type RemediationRecord struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	Feature        string    `json:"feature"`
	Platform       string    `json:"platform"`
	Commands       string    `json:"commands"` // JSON array
	SourceRevision int64     `json:"source_revision"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// PlanRecord represents a config plan row
type PlanRecord struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	PlanType         string     `json:"plan_type"`
	Filter           string     `json:"filter"`   // JSON blob
	Features         string     `json:"features"` // JSON array
	ChangeControlID  string     `json:"change_control_id"`
	ChangeControlURL string     `json:"change_control_url"`
	Status           string     `json:"status"`
	Outcome          *string    `json:"outcome,omitempty"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// PlanEntryRecord represents a single device entry within a plan
type PlanEntryRecord struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Commands   string `json:"commands"` // JSON array
	Status     string `json:"status"`
}

// JobRecord represents one deployment job attempt chain for a plan entry
type JobRecord struct {
	ID         string     `json:"id"`
	PlanID     string     `json:"plan_id"`
	EntryID    string     `json:"entry_id"`
	DeviceID   string     `json:"device_id"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	Output     *string    `json:"output,omitempty"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// GoldenRecord tracks per-device config-management timestamps
type GoldenRecord struct {
	DeviceID              string     `json:"device_id"`
	BackupLastAttempt     *time.Time `json:"backup_last_attempt,omitempty"`
	BackupLastSuccess     *time.Time `json:"backup_last_success,omitempty"`
	IntendedLastAttempt   *time.Time `json:"intended_last_attempt,omitempty"`
	IntendedLastSuccess   *time.Time `json:"intended_last_success,omitempty"`
	ComplianceLastAttempt *time.Time `json:"compliance_last_attempt,omitempty"`
	ComplianceLastSuccess *time.Time `json:"compliance_last_success,omitempty"`
}

// Event represents an append-only audit log event
type Event struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	PlanID    *string   `json:"plan_id,omitempty"`
	JobID     *string   `json:"job_id,omitempty"`
	DeviceID  *string   `json:"device_id,omitempty"`
	Feature   *string   `json:"feature,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Device operations
	UpsertDevice(ctx context.Context, device *DeviceRecord) error
	GetDevice(ctx context.Context, id string) (*DeviceRecord, error)
	GetDeviceByName(ctx context.Context, name string) (*DeviceRecord, error)
	ListDevices(ctx context.Context) ([]*DeviceRecord, error)
	DeleteDevice(ctx context.Context, id string) error

	// Config snapshot operations
	SaveConfig(ctx context.Context, config *ConfigRecord) error
	GetConfig(ctx context.Context, deviceID, feature string, kind ConfigKind) (*ConfigRecord, error)
	ListConfigs(ctx context.Context, deviceID string) ([]*ConfigRecord, error)

	// Compliance operations
	SaveCompliance(ctx context.Context, result *ComplianceRecord) error
	GetLatestCompliance(ctx context.Context, deviceID, feature string) (*ComplianceRecord, error)
	ListCompliance(ctx context.Context, deviceID string) ([]*ComplianceRecord, error)
	ListComplianceFeatures(ctx context.Context, deviceID string) ([]string, error)

	// Remediation operations
	SaveRemediation(ctx context.Context, result *RemediationRecord) error
	GetLatestRemediation(ctx context.Context, deviceID, feature string) (*RemediationRecord, error)

	// Plan operations
	SavePlan(ctx context.Context, plan *PlanRecord, entries []*PlanEntryRecord) error
	GetPlan(ctx context.Context, id string) (*PlanRecord, []*PlanEntryRecord, error)
	ListPlans(ctx context.Context, status string, limit, offset int) ([]*PlanRecord, error)
	UpdatePlanStatus(ctx context.Context, planID, status string, outcome *string) error
	UpdateEntryStatus(ctx context.Context, entryID, status string) error

	// Deployment job operations
	UpsertJob(ctx context.Context, job *JobRecord) error
	ListJobs(ctx context.Context, planID string) ([]*JobRecord, error)

	// Golden record operations
	GetGolden(ctx context.Context, deviceID string) (*GoldenRecord, error)
	TouchGolden(ctx context.Context, deviceID string, op GoldenOperation, success bool, at time.Time) error

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, planID *string, deviceID *string, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection. Pragmas are applied per
// connection so the pool behaves uniformly: WAL journal, foreign keys on,
// 5s busy timeout.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// UpsertDevice inserts or updates a device inventory record
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *DeviceRecord) error {
	query := `
		INSERT INTO devices (
			id, name, platform, device_type, location, role, status, tags, address, port, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			platform = excluded.platform,
			device_type = excluded.device_type,
			location = excluded.location,
			role = excluded.role,
			status = excluded.status,
			tags = excluded.tags,
			address = excluded.address,
			port = excluded.port,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		device.Platform,
		device.DeviceType,
		device.Location,
		device.Role,
		device.Status,
		device.Tags,
		device.Address,
		device.Port,
		device.CreatedAt,
		device.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device by ID
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*DeviceRecord, error) {
	query := `
		SELECT id, name, platform, device_type, location, role, status, tags, address, port, created_at, updated_at
		FROM devices
		WHERE id = ?
	`
	return s.scanDevice(s.db.QueryRowContext(ctx, query, id), id)
}

// GetDeviceByName retrieves a device by its unique name
func (s *SQLiteStore) GetDeviceByName(ctx context.Context, name string) (*DeviceRecord, error) {
	query := `
		SELECT id, name, platform, device_type, location, role, status, tags, address, port, created_at, updated_at
		FROM devices
		WHERE name = ?
	`
	return s.scanDevice(s.db.QueryRowContext(ctx, query, name), name)
}

func (s *SQLiteStore) scanDevice(row *sql.Row, key string) (*DeviceRecord, error) {
	device := &DeviceRecord{}
	err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Platform,
		&device.DeviceType,
		&device.Location,
		&device.Role,
		&device.Status,
		&device.Tags,
		&device.Address,
		&device.Port,
		&device.CreatedAt,
		&device.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("device %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	return device, nil
}

// ListDevices lists all devices ordered by name
func (s *SQLiteStore) ListDevices(ctx context.Context) ([]*DeviceRecord, error) {
	query := `
		SELECT id, name, platform, device_type, location, role, status, tags, address, port, created_at, updated_at
		FROM devices
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	devices := []*DeviceRecord{}
	for rows.Next() {
		device := &DeviceRecord{}
		err := rows.Scan(
			&device.ID,
			&device.Name,
			&device.Platform,
			&device.DeviceType,
			&device.Location,
			&device.Role,
			&device.Status,
			&device.Tags,
			&device.Address,
			&device.Port,
			&device.CreatedAt,
			&device.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

// DeleteDevice deletes a device by ID
func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	query := `DELETE FROM devices WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}

	return nil
}

// SaveConfig stores a configuration snapshot. One snapshot is kept per
// device, feature and kind; saving again replaces the previous capture.
func (s *SQLiteStore) SaveConfig(ctx context.Context, config *ConfigRecord) error {
	query := `
		INSERT INTO configs (
			id, device_id, feature, kind, content, hash, captured_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(device_id, feature, kind) DO UPDATE SET
			content = excluded.content,
			hash = excluded.hash,
			captured_at = excluded.captured_at,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		config.ID,
		config.DeviceID,
		config.Feature,
		config.Kind,
		config.Content,
		config.Hash,
		config.CapturedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// GetConfig retrieves the stored snapshot for a device, feature and kind
func (s *SQLiteStore) GetConfig(ctx context.Context, deviceID, feature string, kind ConfigKind) (*ConfigRecord, error) {
	query := `
		SELECT id, device_id, feature, kind, content, hash, captured_at, created_at, updated_at
		FROM configs
		WHERE device_id = ? AND feature = ? AND kind = ?
	`

	config := &ConfigRecord{}
	err := s.db.QueryRowContext(ctx, query, deviceID, feature, kind).Scan(
		&config.ID,
		&config.DeviceID,
		&config.Feature,
		&config.Kind,
		&config.Content,
		&config.Hash,
		&config.CapturedAt,
		&config.CreatedAt,
		&config.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s config for %s/%s: %w", kind, deviceID, feature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	return config, nil
}

// ListConfigs lists all stored snapshots for a device
func (s *SQLiteStore) ListConfigs(ctx context.Context, deviceID string) ([]*ConfigRecord, error) {
	query := `
		SELECT id, device_id, feature, kind, content, hash, captured_at, created_at, updated_at
		FROM configs
		WHERE device_id = ?
		ORDER BY feature ASC, kind ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer rows.Close()

	configs := []*ConfigRecord{}
	for rows.Next() {
		config := &ConfigRecord{}
		err := rows.Scan(
			&config.ID,
			&config.DeviceID,
			&config.Feature,
			&config.Kind,
			&config.Content,
			&config.Hash,
			&config.CapturedAt,
			&config.CreatedAt,
			&config.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs = append(configs, config)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating configs: %w", err)
	}

	return configs, nil
}

// SaveCompliance appends a compliance result and assigns its revision.
// The revision stays unchanged when both input hashes match the previous
// result for the device and feature, otherwise it increments. The assigned
// revision is written back into the record.
func (s *SQLiteStore) SaveCompliance(ctx context.Context, result *ComplianceRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		prevRevision int64
		prevIntended string
		prevActual   string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT revision, intended_hash, actual_hash
		FROM compliance_results
		WHERE device_id = ? AND feature = ?
		ORDER BY rowid DESC
		LIMIT 1
	`, result.DeviceID, result.Feature).Scan(&prevRevision, &prevIntended, &prevActual)

	switch {
	case err == sql.ErrNoRows:
		result.Revision = 1
	case err != nil:
		return fmt.Errorf("failed to load previous compliance result: %w", err)
	case prevIntended == result.IntendedHash && prevActual == result.ActualHash:
		result.Revision = prevRevision
	default:
		result.Revision = prevRevision + 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO compliance_results (
			id, device_id, feature, strategy, state, ordered, intended_absent,
			intended_hash, actual_hash, revision, result, computed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.DeviceID,
		result.Feature,
		result.Strategy,
		result.State,
		result.Ordered,
		result.IntendedAbsent,
		result.IntendedHash,
		result.ActualHash,
		result.Revision,
		result.Result,
		result.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save compliance result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compliance result: %w", err)
	}

	return nil
}

// GetLatestCompliance retrieves the most recent compliance result for a
// device and feature
func (s *SQLiteStore) GetLatestCompliance(ctx context.Context, deviceID, feature string) (*ComplianceRecord, error) {
	query := `
		SELECT id, device_id, feature, strategy, state, ordered, intended_absent,
			   intended_hash, actual_hash, revision, result, computed_at
		FROM compliance_results
		WHERE device_id = ? AND feature = ?
		ORDER BY rowid DESC
		LIMIT 1
	`

	record := &ComplianceRecord{}
	err := s.db.QueryRowContext(ctx, query, deviceID, feature).Scan(
		&record.ID,
		&record.DeviceID,
		&record.Feature,
		&record.Strategy,
		&record.State,
		&record.Ordered,
		&record.IntendedAbsent,
		&record.IntendedHash,
		&record.ActualHash,
		&record.Revision,
		&record.Result,
		&record.ComputedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("compliance result for %s/%s: %w", deviceID, feature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance result: %w", err)
	}

	return record, nil
}

// ListCompliance lists the latest compliance result per feature for a device
func (s *SQLiteStore) ListCompliance(ctx context.Context, deviceID string) ([]*ComplianceRecord, error) {
	query := `
		SELECT id, device_id, feature, strategy, state, ordered, intended_absent,
			   intended_hash, actual_hash, revision, result, computed_at
		FROM compliance_results
		WHERE device_id = ?
		  AND rowid IN (
			SELECT MAX(rowid) FROM compliance_results WHERE device_id = ? GROUP BY feature
		  )
		ORDER BY feature ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	defer rows.Close()

	records := []*ComplianceRecord{}
	for rows.Next() {
		record := &ComplianceRecord{}
		err := rows.Scan(
			&record.ID,
			&record.DeviceID,
			&record.Feature,
			&record.Strategy,
			&record.State,
			&record.Ordered,
			&record.IntendedAbsent,
			&record.IntendedHash,
			&record.ActualHash,
			&record.Revision,
			&record.Result,
			&record.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance result: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compliance results: %w", err)
	}

	return records, nil
}

// ListComplianceFeatures lists the features with recorded compliance results
// for a device
func (s *SQLiteStore) ListComplianceFeatures(ctx context.Context, deviceID string) ([]string, error) {
	query := `
		SELECT DISTINCT feature
		FROM compliance_results
		WHERE device_id = ?
		ORDER BY feature ASC
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance features: %w", err)
	}
	defer rows.Close()

	features := []string{}
	for rows.Next() {
		var feature string
		if err := rows.Scan(&feature); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, feature)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating features: %w", err)
	}

	return features, nil
}

// SaveRemediation appends a remediation result
func (s *SQLiteStore) SaveRemediation(ctx context.Context, result *RemediationRecord) error {
	query := `
		INSERT INTO remediation_results (
			id, device_id, feature, platform, commands, source_revision, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		result.DeviceID,
		result.Feature,
		result.Platform,
		result.Commands,
		result.SourceRevision,
		result.GeneratedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save remediation result: %w", err)
	}

	return nil
}

// GetLatestRemediation retrieves the most recent remediation result for a
// device and feature
func (s *SQLiteStore) GetLatestRemediation(ctx context.Context, deviceID, feature string) (*RemediationRecord, error) {
	query := `
		SELECT id, device_id, feature, platform, commands, source_revision, generated_at
		FROM remediation_results
		WHERE device_id = ? AND feature = ?
		ORDER BY rowid DESC
		LIMIT 1
	`

	record := &RemediationRecord{}
	err := s.db.QueryRowContext(ctx, query, deviceID, feature).Scan(
		&record.ID,
		&record.DeviceID,
		&record.Feature,
		&record.Platform,
		&record.Commands,
		&record.SourceRevision,
		&record.GeneratedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("remediation result for %s/%s: %w", deviceID, feature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remediation result: %w", err)
	}

	return record, nil
}

// SavePlan stores a plan and its entries atomically
func (s *SQLiteStore) SavePlan(ctx context.Context, plan *PlanRecord, entries []*PlanEntryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO config_plans (
			id, name, plan_type, filter, features, change_control_id, change_control_url,
			status, outcome, created_by, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		plan.ID,
		plan.Name,
		plan.PlanType,
		plan.Filter,
		plan.Features,
		plan.ChangeControlID,
		plan.ChangeControlURL,
		plan.Status,
		plan.Outcome,
		plan.CreatedBy,
		plan.CreatedAt,
		plan.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	for _, entry := range entries {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO plan_entries (id, plan_id, device_id, device_name, commands, status)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			entry.ID,
			entry.PlanID,
			entry.DeviceID,
			entry.DeviceName,
			entry.Commands,
			entry.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to save plan entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan: %w", err)
	}

	return nil
}

// GetPlan retrieves a plan and its entries by ID
func (s *SQLiteStore) GetPlan(ctx context.Context, id string) (*PlanRecord, []*PlanEntryRecord, error) {
	query := `
		SELECT id, name, plan_type, filter, features, change_control_id, change_control_url,
			   status, outcome, created_by, created_at, completed_at
		FROM config_plans
		WHERE id = ?
	`

	plan := &PlanRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID,
		&plan.Name,
		&plan.PlanType,
		&plan.Filter,
		&plan.Features,
		&plan.ChangeControlID,
		&plan.ChangeControlURL,
		&plan.Status,
		&plan.Outcome,
		&plan.CreatedBy,
		&plan.CreatedAt,
		&plan.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get plan: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, device_id, device_name, commands, status
		FROM plan_entries
		WHERE plan_id = ?
		ORDER BY rowid ASC
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get plan entries: %w", err)
	}
	defer rows.Close()

	entries := []*PlanEntryRecord{}
	for rows.Next() {
		entry := &PlanEntryRecord{}
		err := rows.Scan(
			&entry.ID,
			&entry.PlanID,
			&entry.DeviceID,
			&entry.DeviceName,
			&entry.Commands,
			&entry.Status,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan plan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating plan entries: %w", err)
	}

	return plan, entries, nil
}

// ListPlans lists plans with pagination, newest first. An empty status
// matches all plans.
func (s *SQLiteStore) ListPlans(ctx context.Context, status string, limit, offset int) ([]*PlanRecord, error) {
	query := `
		SELECT id, name, plan_type, filter, features, change_control_id, change_control_url,
			   status, outcome, created_by, created_at, completed_at
		FROM config_plans
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*PlanRecord{}
	for rows.Next() {
		plan := &PlanRecord{}
		err := rows.Scan(
			&plan.ID,
			&plan.Name,
			&plan.PlanType,
			&plan.Filter,
			&plan.Features,
			&plan.ChangeControlID,
			&plan.ChangeControlURL,
			&plan.Status,
			&plan.Outcome,
			&plan.CreatedBy,
			&plan.CreatedAt,
			&plan.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}

	return plans, nil
}

// UpdatePlanStatus updates the status of a plan. A nil outcome leaves any
// recorded outcome in place. Terminal statuses set the completion time.
func (s *SQLiteStore) UpdatePlanStatus(ctx context.Context, planID, status string, outcome *string) error {
	query := `
		UPDATE config_plans
		SET status = ?, outcome = COALESCE(?, outcome), completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`

	var completedAt *time.Time
	if status == "completed" || status == "cancelled" {
		now := time.Now()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, outcome, completedAt, planID)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	return nil
}

// UpdateEntryStatus updates the status of a single plan entry
func (s *SQLiteStore) UpdateEntryStatus(ctx context.Context, entryID, status string) error {
	query := `UPDATE plan_entries SET status = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, entryID)
	if err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("plan entry %s: %w", entryID, ErrNotFound)
	}

	return nil
}

// UpsertJob inserts or updates a deployment job record
func (s *SQLiteStore) UpsertJob(ctx context.Context, job *JobRecord) error {
	query := `
		INSERT INTO deployment_jobs (
			id, plan_id, entry_id, device_id, status, attempts, output, error,
			started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			output = excluded.output,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.PlanID,
		job.EntryID,
		job.DeviceID,
		job.Status,
		job.Attempts,
		job.Output,
		job.Error,
		job.StartedAt,
		job.FinishedAt,
		job.DurationMS,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert job: %w", err)
	}

	return nil
}

// ListJobs lists all deployment jobs for a plan in creation order
func (s *SQLiteStore) ListJobs(ctx context.Context, planID string) ([]*JobRecord, error) {
	query := `
		SELECT id, plan_id, entry_id, device_id, status, attempts, output, error,
			   started_at, finished_at, duration_ms
		FROM deployment_jobs
		WHERE plan_id = ?
		ORDER BY rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*JobRecord{}
	for rows.Next() {
		job := &JobRecord{}
		err := rows.Scan(
			&job.ID,
			&job.PlanID,
			&job.EntryID,
			&job.DeviceID,
			&job.Status,
			&job.Attempts,
			&job.Output,
			&job.Error,
			&job.StartedAt,
			&job.FinishedAt,
			&job.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// GetGolden retrieves the golden record for a device
func (s *SQLiteStore) GetGolden(ctx context.Context, deviceID string) (*GoldenRecord, error) {
	query := `
		SELECT device_id, backup_last_attempt, backup_last_success,
			   intended_last_attempt, intended_last_success,
			   compliance_last_attempt, compliance_last_success
		FROM golden_records
		WHERE device_id = ?
	`

	record := &GoldenRecord{}
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&record.DeviceID,
		&record.BackupLastAttempt,
		&record.BackupLastSuccess,
		&record.IntendedLastAttempt,
		&record.IntendedLastSuccess,
		&record.ComplianceLastAttempt,
		&record.ComplianceLastSuccess,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("golden record for %s: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get golden record: %w", err)
	}

	return record, nil
}

// TouchGolden records an attempt of the named operation for a device,
// updating the success timestamp as well when the attempt succeeded
func (s *SQLiteStore) TouchGolden(ctx context.Context, deviceID string, op GoldenOperation, success bool, at time.Time) error {
	attemptCol, successCol, err := goldenColumns(op)
	if err != nil {
		return err
	}

	if success {
		query := fmt.Sprintf(`
			INSERT INTO golden_records (device_id, %[1]s, %[2]s)
			VALUES (?, ?, ?)
			ON CONFLICT(device_id) DO UPDATE SET
				%[1]s = excluded.%[1]s,
				%[2]s = excluded.%[2]s
		`, attemptCol, successCol)
		if _, err := s.db.ExecContext(ctx, query, deviceID, at, at); err != nil {
			return fmt.Errorf("failed to touch golden record: %w", err)
		}
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO golden_records (device_id, %[1]s)
		VALUES (?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			%[1]s = excluded.%[1]s
	`, attemptCol)
	if _, err := s.db.ExecContext(ctx, query, deviceID, at); err != nil {
		return fmt.Errorf("failed to touch golden record: %w", err)
	}
	return nil
}

// goldenColumns maps an operation to its attempt and success columns
func goldenColumns(op GoldenOperation) (string, string, error) {
	switch op {
	case GoldenOpBackup:
		return "backup_last_attempt", "backup_last_success", nil
	case GoldenOpIntended:
		return "intended_last_attempt", "intended_last_success", nil
	case GoldenOpCompliance:
		return "compliance_last_attempt", "compliance_last_success", nil
	default:
		return "", "", fmt.Errorf("unknown golden operation: %s", op)
	}
}

// AppendEvent appends an event to the audit log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO audit_log (event_type, plan_id, job_id, device_id, feature, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.EventType,
		event.PlanID,
		event.JobID,
		event.DeviceID,
		event.Feature,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves audit events with optional filters and pagination
func (s *SQLiteStore) ListEvents(ctx context.Context, planID *string, deviceID *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_type, plan_id, job_id, device_id, feature, level, message, details, timestamp
		FROM audit_log
		WHERE (? IS NULL OR plan_id = ?)
		  AND (? IS NULL OR device_id = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, planID, planID, deviceID, deviceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.PlanID,
			&event.JobID,
			&event.DeviceID,
			&event.Feature,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store for testing. A file
// path keeps WAL and foreign key behavior identical to production.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "conform_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// seedDevice inserts a device row so foreign keys resolve
func seedDevice(t *testing.T, store *SQLiteStore, id, name string) *DeviceRecord {
	t.Helper()

	now := time.Now()
	device := &DeviceRecord{
		ID:         id,
		Name:       name,
		Platform:   "ios",
		DeviceType: "switch",
		Location:   "fra1",
		Role:       "access",
		Status:     "active",
		Tags:       `["lab"]`,
		Address:    "192.0.2.10",
		Port:       22,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.UpsertDevice(context.Background(), device); err != nil {
		t.Fatalf("failed to seed device: %v", err)
	}
	return device
}

// seedPlan inserts a plan with one entry so job foreign keys resolve
func seedPlan(t *testing.T, store *SQLiteStore, planID, entryID, deviceID string) {
	t.Helper()

	plan := &PlanRecord{
		ID:        planID,
		Name:      "test plan",
		PlanType:  "remediation",
		Filter:    `{}`,
		Features:  `["ntp"]`,
		Status:    "approved",
		CreatedBy: "tester",
		CreatedAt: time.Now(),
	}
	entries := []*PlanEntryRecord{{
		ID:         entryID,
		PlanID:     planID,
		DeviceID:   deviceID,
		DeviceName: "sw-test",
		Commands:   `["ntp server 10.0.0.1"]`,
		Status:     "pending",
	}}
	if err := store.SavePlan(context.Background(), plan, entries); err != nil {
		t.Fatalf("failed to seed plan: %v", err)
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "lifecycle.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{
		"devices", "configs", "compliance_results", "remediation_results",
		"config_plans", "plan_entries", "deployment_jobs", "golden_records", "audit_log",
	}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestDeviceCRUD tests device inventory operations
func TestDeviceCRUD(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-001", "sw-edge-01")

	// Read by ID
	retrieved, err := store.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get device: %v", err)
	}
	if retrieved.Name != device.Name {
		t.Errorf("expected Name %s, got %s", device.Name, retrieved.Name)
	}
	if retrieved.Platform != device.Platform {
		t.Errorf("expected Platform %s, got %s", device.Platform, retrieved.Platform)
	}

	// Read by name
	byName, err := store.GetDeviceByName(ctx, device.Name)
	if err != nil {
		t.Fatalf("failed to get device by name: %v", err)
	}
	if byName.ID != device.ID {
		t.Errorf("expected ID %s, got %s", device.ID, byName.ID)
	}

	// Upsert (update)
	device.Location = "ams2"
	device.Status = "maintenance"
	device.UpdatedAt = time.Now()
	if err := store.UpsertDevice(ctx, device); err != nil {
		t.Fatalf("failed to upsert device: %v", err)
	}

	updated, err := store.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get updated device: %v", err)
	}
	if updated.Location != "ams2" {
		t.Errorf("expected Location ams2, got %s", updated.Location)
	}
	if updated.Status != "maintenance" {
		t.Errorf("expected Status maintenance, got %s", updated.Status)
	}

	// List
	seedDevice(t, store, "dev-002", "sw-edge-02")
	devices, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("failed to list devices: %v", err)
	}
	if len(devices) != 2 {
		t.Errorf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "sw-edge-01" {
		t.Errorf("expected devices ordered by name, got %s first", devices[0].Name)
	}

	// Delete
	if err := store.DeleteDevice(ctx, device.ID); err != nil {
		t.Fatalf("failed to delete device: %v", err)
	}

	_, err = store.GetDevice(ctx, device.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted device, got %v", err)
	}
}

// TestConfigSnapshotReplace tests that saving a snapshot replaces the
// previous one for the same device, feature and kind
func TestConfigSnapshotReplace(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-cfg-001", "sw-cfg-01")
	now := time.Now()

	first := &ConfigRecord{
		ID:         "cfg-001",
		DeviceID:   device.ID,
		Feature:    "ntp",
		Kind:       ConfigKindIntended,
		Content:    "ntp server 10.0.0.1",
		Hash:       "hash-v1",
		CapturedAt: now,
	}
	if err := store.SaveConfig(ctx, first); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	// Same device/feature/kind replaces the row
	second := &ConfigRecord{
		ID:         "cfg-002",
		DeviceID:   device.ID,
		Feature:    "ntp",
		Kind:       ConfigKindIntended,
		Content:    "ntp server 10.0.0.2",
		Hash:       "hash-v2",
		CapturedAt: now.Add(time.Minute),
	}
	if err := store.SaveConfig(ctx, second); err != nil {
		t.Fatalf("failed to replace config: %v", err)
	}

	retrieved, err := store.GetConfig(ctx, device.ID, "ntp", ConfigKindIntended)
	if err != nil {
		t.Fatalf("failed to get config: %v", err)
	}
	if retrieved.Hash != "hash-v2" {
		t.Errorf("expected replaced hash hash-v2, got %s", retrieved.Hash)
	}

	// Actual snapshot lives alongside the intended one
	actual := &ConfigRecord{
		ID:         "cfg-003",
		DeviceID:   device.ID,
		Feature:    "ntp",
		Kind:       ConfigKindActual,
		Content:    "ntp server 10.9.9.9",
		Hash:       "hash-actual",
		CapturedAt: now,
	}
	if err := store.SaveConfig(ctx, actual); err != nil {
		t.Fatalf("failed to save actual config: %v", err)
	}

	configs, err := store.ListConfigs(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to list configs: %v", err)
	}
	if len(configs) != 2 {
		t.Errorf("expected 2 configs, got %d", len(configs))
	}

	_, err = store.GetConfig(ctx, device.ID, "snmp", ConfigKindIntended)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing config, got %v", err)
	}
}

// TestComplianceRevisions tests revision assignment across saves
func TestComplianceRevisions(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-cmp-001", "sw-cmp-01")
	now := time.Now()

	save := func(id, intendedHash, actualHash string) *ComplianceRecord {
		record := &ComplianceRecord{
			ID:           id,
			DeviceID:     device.ID,
			Feature:      "ntp",
			Strategy:     "cli",
			State:        "non_compliant",
			IntendedHash: intendedHash,
			ActualHash:   actualHash,
			Result:       `{"entries":[]}`,
			ComputedAt:   now,
		}
		if err := store.SaveCompliance(ctx, record); err != nil {
			t.Fatalf("failed to save compliance result %s: %v", id, err)
		}
		return record
	}

	first := save("cmp-001", "ih-1", "ah-1")
	if first.Revision != 1 {
		t.Errorf("expected first revision 1, got %d", first.Revision)
	}

	// Unchanged hashes keep the revision
	same := save("cmp-002", "ih-1", "ah-1")
	if same.Revision != 1 {
		t.Errorf("expected unchanged revision 1, got %d", same.Revision)
	}

	// A changed actual hash bumps the revision
	changed := save("cmp-003", "ih-1", "ah-2")
	if changed.Revision != 2 {
		t.Errorf("expected bumped revision 2, got %d", changed.Revision)
	}

	latest, err := store.GetLatestCompliance(ctx, device.ID, "ntp")
	if err != nil {
		t.Fatalf("failed to get latest compliance: %v", err)
	}
	if latest.ID != "cmp-003" {
		t.Errorf("expected latest result cmp-003, got %s", latest.ID)
	}
	if latest.Revision != 2 {
		t.Errorf("expected latest revision 2, got %d", latest.Revision)
	}

	// A second feature is tracked independently
	snmp := &ComplianceRecord{
		ID:           "cmp-004",
		DeviceID:     device.ID,
		Feature:      "snmp",
		Strategy:     "cli",
		State:        "compliant",
		IntendedHash: "ih-s",
		ActualHash:   "ih-s",
		Result:       `{"entries":[]}`,
		ComputedAt:   now,
	}
	if err := store.SaveCompliance(ctx, snmp); err != nil {
		t.Fatalf("failed to save snmp compliance: %v", err)
	}
	if snmp.Revision != 1 {
		t.Errorf("expected independent revision 1 for snmp, got %d", snmp.Revision)
	}

	// ListCompliance returns the latest result per feature
	results, err := store.ListCompliance(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to list compliance: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 latest results, got %d", len(results))
	}
	if results[0].Feature != "ntp" || results[0].ID != "cmp-003" {
		t.Errorf("expected latest ntp result first, got %s/%s", results[0].Feature, results[0].ID)
	}

	features, err := store.ListComplianceFeatures(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to list features: %v", err)
	}
	if len(features) != 2 || features[0] != "ntp" || features[1] != "snmp" {
		t.Errorf("expected features [ntp snmp], got %v", features)
	}
}

// TestRemediationResults tests remediation persistence
func TestRemediationResults(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-rem-001", "sw-rem-01")
	now := time.Now()

	first := &RemediationRecord{
		ID:             "rem-001",
		DeviceID:       device.ID,
		Feature:        "ntp",
		Platform:       "ios",
		Commands:       `["no ntp server 10.9.9.9","ntp server 10.0.0.1"]`,
		SourceRevision: 1,
		GeneratedAt:    now,
	}
	if err := store.SaveRemediation(ctx, first); err != nil {
		t.Fatalf("failed to save remediation: %v", err)
	}

	second := &RemediationRecord{
		ID:             "rem-002",
		DeviceID:       device.ID,
		Feature:        "ntp",
		Platform:       "ios",
		Commands:       `["ntp server 10.0.0.2"]`,
		SourceRevision: 2,
		GeneratedAt:    now.Add(time.Minute),
	}
	if err := store.SaveRemediation(ctx, second); err != nil {
		t.Fatalf("failed to save second remediation: %v", err)
	}

	latest, err := store.GetLatestRemediation(ctx, device.ID, "ntp")
	if err != nil {
		t.Fatalf("failed to get latest remediation: %v", err)
	}
	if latest.ID != "rem-002" {
		t.Errorf("expected latest remediation rem-002, got %s", latest.ID)
	}
	if latest.SourceRevision != 2 {
		t.Errorf("expected SourceRevision 2, got %d", latest.SourceRevision)
	}

	_, err = store.GetLatestRemediation(ctx, device.ID, "snmp")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing remediation, got %v", err)
	}
}

// TestPlanLifecycle tests plan and entry persistence
func TestPlanLifecycle(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	now := time.Now()

	plan := &PlanRecord{
		ID:              "plan-001",
		Name:            "ntp rollout",
		PlanType:        "remediation",
		Filter:          `{"locations":["fra1"]}`,
		Features:        `["ntp"]`,
		ChangeControlID: "CHG-1042",
		Status:          "approved",
		CreatedBy:       "neteng",
		CreatedAt:       now,
	}
	entries := []*PlanEntryRecord{
		{
			ID:         "entry-001",
			PlanID:     plan.ID,
			DeviceID:   "dev-001",
			DeviceName: "sw-edge-01",
			Commands:   `["ntp server 10.0.0.1"]`,
			Status:     "pending",
		},
		{
			ID:         "entry-002",
			PlanID:     plan.ID,
			DeviceID:   "dev-002",
			DeviceName: "sw-edge-02",
			Commands:   `["ntp server 10.0.0.1"]`,
			Status:     "pending",
		},
	}

	if err := store.SavePlan(ctx, plan, entries); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}

	retrieved, retrievedEntries, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("failed to get plan: %v", err)
	}
	if retrieved.Name != plan.Name {
		t.Errorf("expected Name %s, got %s", plan.Name, retrieved.Name)
	}
	if retrieved.ChangeControlID != "CHG-1042" {
		t.Errorf("expected ChangeControlID CHG-1042, got %s", retrieved.ChangeControlID)
	}
	if len(retrievedEntries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(retrievedEntries))
	}
	if retrievedEntries[0].ID != "entry-001" {
		t.Errorf("expected entries in insertion order, got %s first", retrievedEntries[0].ID)
	}

	// List filtered by status
	approved, err := store.ListPlans(ctx, "approved", 10, 0)
	if err != nil {
		t.Fatalf("failed to list plans: %v", err)
	}
	if len(approved) != 1 {
		t.Errorf("expected 1 approved plan, got %d", len(approved))
	}

	pending, err := store.ListPlans(ctx, "pending_approval", 10, 0)
	if err != nil {
		t.Fatalf("failed to list pending plans: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending plans, got %d", len(pending))
	}

	// Update entry and plan status
	if err := store.UpdateEntryStatus(ctx, "entry-001", "succeeded"); err != nil {
		t.Fatalf("failed to update entry status: %v", err)
	}

	outcome := "succeeded"
	if err := store.UpdatePlanStatus(ctx, plan.ID, "completed", &outcome); err != nil {
		t.Fatalf("failed to update plan status: %v", err)
	}

	completed, completedEntries, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("failed to get completed plan: %v", err)
	}
	if completed.Status != "completed" {
		t.Errorf("expected Status completed, got %s", completed.Status)
	}
	if completed.Outcome == nil || *completed.Outcome != "succeeded" {
		t.Errorf("expected Outcome succeeded, got %v", completed.Outcome)
	}
	if completed.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if completedEntries[0].Status != "succeeded" {
		t.Errorf("expected entry status succeeded, got %s", completedEntries[0].Status)
	}

	_, _, err = store.GetPlan(ctx, "plan-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing plan, got %v", err)
	}
}

// TestJobUpsert tests deployment job persistence across retries
func TestJobUpsert(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	seedPlan(t, store, "plan-job-001", "entry-job-001", "dev-001")
	now := time.Now()

	job := &JobRecord{
		ID:        "job-001",
		PlanID:    "plan-job-001",
		EntryID:   "entry-job-001",
		DeviceID:  "dev-001",
		Status:    "in_progress",
		Attempts:  1,
		StartedAt: &now,
	}
	if err := store.UpsertJob(ctx, job); err != nil {
		t.Fatalf("failed to upsert job: %v", err)
	}

	// Second attempt updates the same row
	finished := now.Add(3 * time.Second)
	output := "config accepted"
	job.Status = "succeeded"
	job.Attempts = 2
	job.Output = &output
	job.FinishedAt = &finished
	job.DurationMS = 3000
	if err := store.UpsertJob(ctx, job); err != nil {
		t.Fatalf("failed to upsert job update: %v", err)
	}

	jobs, err := store.ListJobs(ctx, "plan-job-001")
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != "succeeded" {
		t.Errorf("expected Status succeeded, got %s", jobs[0].Status)
	}
	if jobs[0].Attempts != 2 {
		t.Errorf("expected Attempts 2, got %d", jobs[0].Attempts)
	}
	if jobs[0].Output == nil || *jobs[0].Output != output {
		t.Errorf("expected Output %q, got %v", output, jobs[0].Output)
	}
	if jobs[0].DurationMS != 3000 {
		t.Errorf("expected DurationMS 3000, got %d", jobs[0].DurationMS)
	}
}

// TestGoldenRecords tests golden record timestamps
func TestGoldenRecords(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-gold-001", "sw-gold-01")
	now := time.Now()

	// Failed attempt records the attempt only
	if err := store.TouchGolden(ctx, device.ID, GoldenOpBackup, false, now); err != nil {
		t.Fatalf("failed to touch golden record: %v", err)
	}

	record, err := store.GetGolden(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get golden record: %v", err)
	}
	if record.BackupLastAttempt == nil {
		t.Error("expected BackupLastAttempt to be set")
	}
	if record.BackupLastSuccess != nil {
		t.Error("expected BackupLastSuccess to be nil after failed attempt")
	}

	// Successful attempt records both
	later := now.Add(time.Minute)
	if err := store.TouchGolden(ctx, device.ID, GoldenOpBackup, true, later); err != nil {
		t.Fatalf("failed to touch golden record: %v", err)
	}

	record, err = store.GetGolden(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get golden record: %v", err)
	}
	if record.BackupLastSuccess == nil {
		t.Error("expected BackupLastSuccess to be set after success")
	}

	// Other operations do not interfere
	if err := store.TouchGolden(ctx, device.ID, GoldenOpCompliance, true, later); err != nil {
		t.Fatalf("failed to touch compliance: %v", err)
	}
	record, err = store.GetGolden(ctx, device.ID)
	if err != nil {
		t.Fatalf("failed to get golden record: %v", err)
	}
	if record.ComplianceLastSuccess == nil {
		t.Error("expected ComplianceLastSuccess to be set")
	}
	if record.IntendedLastAttempt != nil {
		t.Error("expected IntendedLastAttempt to remain nil")
	}

	_, err = store.GetGolden(ctx, "dev-unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown device, got %v", err)
	}
}

// TestEventLog tests audit event append and filters
func TestEventLog(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	now := time.Now()

	planID := "plan-evt-001"
	deviceID := "dev-evt-001"
	events := []*Event{
		{
			EventType: "plan_created",
			PlanID:    &planID,
			Level:     "info",
			Message:   "plan created",
			Timestamp: now,
		},
		{
			EventType: "drift_detected",
			DeviceID:  &deviceID,
			Level:     "warning",
			Message:   "drift detected",
			Timestamp: now.Add(1 * time.Second),
		},
		{
			EventType: "deploy_completed",
			PlanID:    &planID,
			Level:     "info",
			Message:   "deploy completed",
			Timestamp: now.Add(2 * time.Second),
		},
	}

	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if event.ID == 0 {
			t.Error("expected event ID to be set after insert")
		}
	}

	all, err := store.ListEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}

	byPlan, err := store.ListEvents(ctx, &planID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list plan events: %v", err)
	}
	if len(byPlan) != 2 {
		t.Errorf("expected 2 plan events, got %d", len(byPlan))
	}

	byDevice, err := store.ListEvents(ctx, nil, &deviceID, 10, 0)
	if err != nil {
		t.Fatalf("failed to list device events: %v", err)
	}
	if len(byDevice) != 1 {
		t.Errorf("expected 1 device event, got %d", len(byDevice))
	}
	if byDevice[0].EventType != "drift_detected" {
		t.Errorf("expected drift_detected, got %s", byDevice[0].EventType)
	}
}

// TestTransactions tests transaction support
func TestTransactions(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	now := time.Now()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	query := `
		INSERT INTO devices (id, name, platform, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query, "dev-tx-001", "sw-tx-01", "ios", "192.0.2.20", now, now)
	if err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to insert device in transaction: %v", err)
	}

	// Rollback
	if err := store.RollbackTx(tx); err != nil {
		t.Fatalf("failed to rollback transaction: %v", err)
	}

	_, err = store.GetDevice(ctx, "dev-tx-001")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after rollback, got %v", err)
	}

	// Commit
	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin second transaction: %v", err)
	}

	_, err = tx.ExecContext(ctx, query, "dev-tx-001", "sw-tx-01", "ios", "192.0.2.20", now, now)
	if err != nil {
		store.RollbackTx(tx)
		t.Fatalf("failed to insert device in second transaction: %v", err)
	}

	if err := store.CommitTx(tx); err != nil {
		t.Fatalf("failed to commit transaction: %v", err)
	}

	retrieved, err := store.GetDevice(ctx, "dev-tx-001")
	if err != nil {
		t.Fatalf("failed to get committed device: %v", err)
	}
	if retrieved.Name != "sw-tx-01" {
		t.Errorf("expected Name sw-tx-01, got %s", retrieved.Name)
	}
}

// TestCascadeDelete tests foreign key cascading
func TestCascadeDelete(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()
	device := seedDevice(t, store, "dev-cas-001", "sw-cas-01")
	now := time.Now()

	config := &ConfigRecord{
		ID:         "cfg-cas-001",
		DeviceID:   device.ID,
		Feature:    "ntp",
		Kind:       ConfigKindActual,
		Content:    "ntp server 10.0.0.1",
		Hash:       "h",
		CapturedAt: now,
	}
	if err := store.SaveConfig(ctx, config); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	compliance := &ComplianceRecord{
		ID:         "cmp-cas-001",
		DeviceID:   device.ID,
		Feature:    "ntp",
		Strategy:   "cli",
		State:      "compliant",
		Result:     `{}`,
		ComputedAt: now,
	}
	if err := store.SaveCompliance(ctx, compliance); err != nil {
		t.Fatalf("failed to save compliance: %v", err)
	}

	if err := store.TouchGolden(ctx, device.ID, GoldenOpCompliance, true, now); err != nil {
		t.Fatalf("failed to touch golden: %v", err)
	}

	// Delete device (should cascade to configs, compliance and golden rows)
	if err := store.DeleteDevice(ctx, device.ID); err != nil {
		t.Fatalf("failed to delete device: %v", err)
	}

	_, err := store.GetConfig(ctx, device.ID, "ntp", ConfigKindActual)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected config to cascade delete, got %v", err)
	}

	_, err = store.GetLatestCompliance(ctx, device.ID, "ntp")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected compliance to cascade delete, got %v", err)
	}

	_, err = store.GetGolden(ctx, device.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected golden record to cascade delete, got %v", err)
	}

	// Plan deletion cascades to entries and jobs
	seedPlan(t, store, "plan-cas-001", "entry-cas-001", "dev-cas-002")
	job := &JobRecord{
		ID:       "job-cas-001",
		PlanID:   "plan-cas-001",
		EntryID:  "entry-cas-001",
		DeviceID: "dev-cas-002",
		Status:   "pending",
	}
	if err := store.UpsertJob(ctx, job); err != nil {
		t.Fatalf("failed to upsert job: %v", err)
	}

	if _, err := store.db.ExecContext(ctx, "DELETE FROM config_plans WHERE id = ?", "plan-cas-001"); err != nil {
		t.Fatalf("failed to delete plan: %v", err)
	}

	jobs, err := store.ListJobs(ctx, "plan-cas-001")
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected 0 jobs after cascade delete, got %d", len(jobs))
	}
}

// TestMain sets up and tears down test environment
func TestMain(m *testing.M) {
	// Run tests
	code := m.Run()

	// Exit
	os.Exit(code)
}

package engine

import (
	"context"
	"sort"
	"testing"
)

// Mock implementations for testing

type mockInventory struct {
	devices []*Device
}

func (m *mockInventory) GetDevice(ctx context.Context, id string) (*Device, error) {
	for _, device := range m.devices {
		if device.ID == id {
			return device, nil
		}
	}
	return nil, NewPermanentError("device not found: "+id, nil).WithCode(ErrCodeNotFound)
}

func (m *mockInventory) ListDevices(ctx context.Context, filter *DeviceFilter) ([]*Device, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	matched := make([]*Device, 0, len(m.devices))
	for _, device := range m.devices {
		if filter.Matches(device) {
			matched = append(matched, device)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}

type mockConfigSource struct {
	intended map[string]*ConfigSnapshot
	actual   map[string]*ConfigSnapshot
}

func newMockConfigSource() *mockConfigSource {
	return &mockConfigSource{
		intended: make(map[string]*ConfigSnapshot),
		actual:   make(map[string]*ConfigSnapshot),
	}
}

func configKey(deviceID, feature string) string {
	return deviceID + "/" + feature
}

func (m *mockConfigSource) GetIntended(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error) {
	return m.intended[configKey(deviceID, feature)], nil
}

func (m *mockConfigSource) GetActual(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error) {
	return m.actual[configKey(deviceID, feature)], nil
}

type mockResultSource struct {
	compliance   map[string]*ComplianceResult
	remediations map[string]*RemediationResult
	features     map[string][]string
}

func newMockResultSource() *mockResultSource {
	return &mockResultSource{
		compliance:   make(map[string]*ComplianceResult),
		remediations: make(map[string]*RemediationResult),
		features:     make(map[string][]string),
	}
}

func (m *mockResultSource) LatestCompliance(ctx context.Context, deviceID, feature string) (*ComplianceResult, error) {
	return m.compliance[configKey(deviceID, feature)], nil
}

func (m *mockResultSource) LatestRemediation(ctx context.Context, deviceID, feature string) (*RemediationResult, error) {
	return m.remediations[configKey(deviceID, feature)], nil
}

func (m *mockResultSource) ListFeatures(ctx context.Context, deviceID string) ([]string, error) {
	return m.features[deviceID], nil
}

func planFixture() (*PlanBuilder, *mockInventory, *mockConfigSource, *mockResultSource) {
	inventory := &mockInventory{
		devices: []*Device{
			{ID: "dev-001", Name: "edge-01", Platform: "ios", Location: "ams", Role: "edge", Status: DeviceStatusActive},
			{ID: "dev-002", Name: "edge-02", Platform: "ios", Location: "fra", Role: "edge", Status: DeviceStatusActive},
			{ID: "dev-003", Name: "core-01", Platform: "nxos", Location: "ams", Role: "core", Status: DeviceStatusActive},
		},
	}
	configs := newMockConfigSource()
	results := newMockResultSource()
	return NewPlanBuilder(inventory, configs, results), inventory, configs, results
}

func TestBuildPlan_Validation(t *testing.T) {
	builder, _, _, _ := planFixture()
	ctx := context.Background()

	if _, err := builder.BuildPlan(ctx, nil); err == nil {
		t.Error("Expected error for nil request")
	}

	if _, err := builder.BuildPlan(ctx, &PlanRequest{Type: PlanType("bogus")}); err == nil {
		t.Error("Expected error for invalid plan type")
	}

	if _, err := builder.BuildPlan(ctx, &PlanRequest{Type: PlanTypeManual}); err == nil {
		t.Error("Expected error for manual plan without commands")
	}
}

func TestBuildPlan_ManualPlan(t *testing.T) {
	builder, _, _, _ := planFixture()

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:           PlanTypeManual,
		Filter:         DeviceFilter{Roles: []string{"edge"}},
		ManualCommands: []string{"ntp server 10.0.0.1"},
		CreatedBy:      "ops",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if plan.Type != PlanTypeManual {
		t.Errorf("Expected manual plan type, got %s", plan.Type)
	}
	if plan.Status != PlanStatePendingApproval {
		t.Errorf("Expected pending_approval status, got %s", plan.Status)
	}
	if len(plan.Entries) != 2 {
		t.Fatalf("Expected 2 entries for edge devices, got %d", len(plan.Entries))
	}
	if plan.Entries[0].DeviceName != "edge-01" || plan.Entries[1].DeviceName != "edge-02" {
		t.Errorf("Expected name-ordered entries, got %s, %s", plan.Entries[0].DeviceName, plan.Entries[1].DeviceName)
	}
	for _, entry := range plan.Entries {
		if len(entry.Commands) != 1 || entry.Commands[0] != "ntp server 10.0.0.1" {
			t.Errorf("Expected manual commands on entry, got %v", entry.Commands)
		}
		if entry.Status != JobStatusPending {
			t.Errorf("Expected pending entry status, got %s", entry.Status)
		}
		if entry.PlanID != plan.ID {
			t.Errorf("Expected entry bound to plan %s, got %s", plan.ID, entry.PlanID)
		}
	}
	if plan.Name == "" {
		t.Error("Expected generated plan name")
	}
}

func TestBuildPlan_ZeroDevicesIsValid(t *testing.T) {
	builder, _, _, _ := planFixture()

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:           PlanTypeManual,
		Filter:         DeviceFilter{Locations: []string{"sin"}},
		ManualCommands: []string{"ntp server 10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("Expected no error for zero matching devices, got: %v", err)
	}
	if len(plan.Entries) != 0 {
		t.Errorf("Expected empty plan, got %d entries", len(plan.Entries))
	}
}

func TestBuildPlan_ChangeControlApproves(t *testing.T) {
	builder, _, _, _ := planFixture()

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:            PlanTypeManual,
		ManualCommands:  []string{"logging host 10.1.1.1"},
		ChangeControlID: "CHG-1234",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if plan.Status != PlanStateApproved {
		t.Errorf("Expected change-control plan to start approved, got %s", plan.Status)
	}
	if !plan.Status.IsDeployable() {
		t.Error("Expected approved plan to be deployable")
	}
}

func TestBuildPlan_RemediationPlan(t *testing.T) {
	builder, _, _, results := planFixture()

	results.features["dev-001"] = []string{"interfaces"}
	results.remediations[configKey("dev-001", "interfaces")] = &RemediationResult{
		DeviceID: "dev-001",
		Feature:  "interfaces",
		Commands: []string{"interface GigabitEthernet0/1", "  description A"},
	}

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type: PlanTypeRemediation,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(plan.Entries) != 1 {
		t.Fatalf("Expected 1 entry, devices without remediations get none, got %d", len(plan.Entries))
	}
	entry := plan.Entries[0]
	if entry.DeviceID != "dev-001" {
		t.Errorf("Expected dev-001 entry, got %s", entry.DeviceID)
	}
	if len(entry.Commands) != 2 || entry.Commands[1] != "  description A" {
		t.Errorf("Expected stored remediation commands, got %v", entry.Commands)
	}
}

func TestBuildPlan_IntendedPlan(t *testing.T) {
	builder, _, configs, _ := planFixture()

	configs.intended[configKey("dev-003", "ntp")] = &ConfigSnapshot{
		DeviceID: "dev-003",
		Feature:  "ntp",
		Text:     "ntp server 10.0.0.1\nntp server 10.0.0.2\n",
	}

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:     PlanTypeIntended,
		Filter:   DeviceFilter{Names: []string{"core-01"}},
		Features: []string{"ntp"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(plan.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(plan.Entries))
	}
	commands := plan.Entries[0].Commands
	if len(commands) != 2 || commands[0] != "ntp server 10.0.0.1" || commands[1] != "ntp server 10.0.0.2" {
		t.Errorf("Expected intended config lines as commands, got %v", commands)
	}
}

func TestBuildPlan_MissingPlan(t *testing.T) {
	builder, _, _, results := planFixture()

	// dev-001 is missing the ntp feature entirely; dev-002 has it but drifted.
	results.features["dev-001"] = []string{"ntp"}
	results.features["dev-002"] = []string{"ntp"}
	results.compliance[configKey("dev-001", "ntp")] = &ComplianceResult{
		DeviceID:       "dev-001",
		Feature:        "ntp",
		IntendedAbsent: true,
		Missing:        "ntp server 10.0.0.1\nntp server 10.0.0.2",
	}
	results.compliance[configKey("dev-002", "ntp")] = &ComplianceResult{
		DeviceID: "dev-002",
		Feature:  "ntp",
		Missing:  "ntp server 10.0.0.2",
	}

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type: PlanTypeMissing,
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(plan.Entries) != 1 {
		t.Fatalf("Expected only the fully absent device, got %d entries", len(plan.Entries))
	}
	entry := plan.Entries[0]
	if entry.DeviceID != "dev-001" {
		t.Errorf("Expected dev-001, got %s", entry.DeviceID)
	}
	expected := []string{"ntp server 10.0.0.1", "ntp server 10.0.0.2"}
	if len(entry.Commands) != len(expected) {
		t.Fatalf("Expected %d commands, got %d: %v", len(expected), len(entry.Commands), entry.Commands)
	}
	for i, want := range expected {
		if entry.Commands[i] != want {
			t.Errorf("Command %d: expected %q, got %q", i, want, entry.Commands[i])
		}
	}
}

func TestBuildPlan_CombinationPlan(t *testing.T) {
	builder, _, _, results := planFixture()

	results.features["dev-001"] = []string{"interfaces", "ntp"}
	results.remediations[configKey("dev-001", "interfaces")] = &RemediationResult{
		DeviceID: "dev-001",
		Feature:  "interfaces",
		Commands: []string{"interface GigabitEthernet0/1", "  description A"},
	}
	results.compliance[configKey("dev-001", "ntp")] = &ComplianceResult{
		DeviceID:       "dev-001",
		Feature:        "ntp",
		IntendedAbsent: true,
		Missing:        "ntp server 10.0.0.1",
	}

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:           PlanTypeCombination,
		Filter:         DeviceFilter{IDs: []string{"dev-001"}},
		ManualCommands: []string{"ntp server 10.0.0.1", "write memory"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(plan.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(plan.Entries))
	}

	expected := []string{
		"interface GigabitEthernet0/1",
		"  description A",
		"ntp server 10.0.0.1",
		"write memory",
	}
	commands := plan.Entries[0].Commands
	if len(commands) != len(expected) {
		t.Fatalf("Expected %d deduplicated commands, got %d: %v", len(expected), len(commands), commands)
	}
	for i, want := range expected {
		if commands[i] != want {
			t.Errorf("Command %d: expected %q, got %q", i, want, commands[i])
		}
	}
}

func TestBuildPlan_FilterSnapshotTaken(t *testing.T) {
	builder, inventory, _, _ := planFixture()

	plan, err := builder.BuildPlan(context.Background(), &PlanRequest{
		Type:           PlanTypeManual,
		ManualCommands: []string{"logging host 10.1.1.1"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(plan.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(plan.Entries))
	}

	// Devices added after the build must not appear in the plan.
	inventory.devices = append(inventory.devices, &Device{
		ID: "dev-004", Name: "edge-03", Platform: "ios", Status: DeviceStatusActive,
	})

	if len(plan.Entries) != 3 {
		t.Errorf("Expected plan to keep its snapshot of 3 entries, got %d", len(plan.Entries))
	}
}

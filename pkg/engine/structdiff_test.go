package engine

import (
	"context"
	"encoding/json"
	"testing"
)

func jsonFeature(name string) *ConfigFeature {
	return &ConfigFeature{
		Name:     name,
		Platform: "ios-xe",
		Strategy: StrategyJSON,
	}
}

func documentSnapshot(deviceID, feature, doc string) *ConfigSnapshot {
	return &ConfigSnapshot{
		DeviceID: deviceID,
		Feature:  feature,
		Document: json.RawMessage(doc),
	}
}

func TestCompareDocuments_KeyOrderIrrelevant(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"interval": 30, "enabled": true}`),
		documentSnapshot(device.ID, feature.Name, `{"enabled": true, "interval": 30}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Compliant {
		t.Errorf("Expected compliant result, got added=%v removed=%v changed=%v",
			result.Added, result.Removed, result.Changed)
	}
	if result.IntendedHash != result.ActualHash {
		t.Error("Expected identical canonical hashes")
	}
}

func TestCompareDocuments_ChangedScalar(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"collector": {"port": 9090}}`),
		documentSnapshot(device.ID, feature.Name, `{"collector": {"port": 8080}}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Compliant {
		t.Fatal("Expected non-compliant result")
	}
	if len(result.Changed) != 1 {
		t.Fatalf("Expected 1 changed entry, got %d", len(result.Changed))
	}

	entry := result.Changed[0]
	if entry.Path != "collector.port" {
		t.Errorf("Expected path 'collector.port', got %q", entry.Path)
	}
	if canonicalKey(entry.Before) != "8080" || canonicalKey(entry.After) != "9090" {
		t.Errorf("Expected before=8080 after=9090, got before=%v after=%v", entry.Before, entry.After)
	}
}

func TestCompareDocuments_AddedAndRemovedKeys(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("syslog")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"servers": {"primary": "10.0.0.1"}, "severity": "warning"}`),
		documentSnapshot(device.ID, feature.Name, `{"servers": {"primary": "10.0.0.1"}, "facility": "local7"}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Added) != 1 || result.Added[0].Path != "severity" {
		t.Errorf("Expected added path 'severity', got %v", result.Added)
	}
	if len(result.Removed) != 1 || result.Removed[0].Path != "facility" {
		t.Errorf("Expected removed path 'facility', got %v", result.Removed)
	}

	if result.Missing == "" || result.Extra == "" {
		t.Error("Expected rendered missing and extra text")
	}
	if result.Missing != `severity: "warning"` {
		t.Errorf("Expected rendered missing line, got %q", result.Missing)
	}
}

func TestCompareDocuments_SlicesArePositional(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("dns")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.1", "10.0.0.2"]}`),
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.2", "10.0.0.1"]}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Compliant {
		t.Error("Expected positional sequence reorder to be non-compliant")
	}
	if len(result.Changed) != 2 {
		t.Errorf("Expected 2 changed entries, got %d", len(result.Changed))
	}
}

func TestCompareDocuments_SetPathIgnoresOrder(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	feature := jsonFeature("dns")
	feature.SetPaths = []string{"resolvers"}

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.1", "10.0.0.2"]}`),
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.2", "10.0.0.1"]}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Compliant {
		t.Errorf("Expected set semantics to accept reorder, got added=%v removed=%v",
			result.Added, result.Removed)
	}
}

func TestCompareDocuments_SetCountsDuplicates(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	feature := jsonFeature("dns")
	feature.SetPaths = []string{"resolvers"}

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.1", "10.0.0.1"]}`),
		documentSnapshot(device.ID, feature.Name, `{"resolvers": ["10.0.0.1"]}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Compliant {
		t.Error("Expected duplicate imbalance to be non-compliant")
	}
	if len(result.Added) != 1 {
		t.Errorf("Expected 1 unmatched intended element, got %d", len(result.Added))
	}
}

func TestCompareDocuments_SetPathMatchesAnyIndex(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	feature := jsonFeature("bgp")
	feature.SetPaths = []string{"groups.neighbors"}

	intended := `{"groups": [{"neighbors": ["10.0.0.2", "10.0.0.3"]}]}`
	actual := `{"groups": [{"neighbors": ["10.0.0.3", "10.0.0.2"]}]}`

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, intended),
		documentSnapshot(device.ID, feature.Name, actual))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Compliant {
		t.Errorf("Expected nested set path to apply under the index, got added=%v removed=%v",
			result.Added, result.Removed)
	}
}

func TestCompareDocuments_TypeMismatchIsChange(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"collector": {"port": 9090}}`),
		documentSnapshot(device.ID, feature.Name, `{"collector": "disabled"}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Changed) != 1 || result.Changed[0].Path != "collector" {
		t.Errorf("Expected single change at 'collector', got %v", result.Changed)
	}
}

func TestCompareDocuments_IntendedAbsent(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	result, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"subscriptions": [{"id": 1}]}`),
		documentSnapshot(device.ID, feature.Name, `{"other": true}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.IntendedAbsent {
		t.Error("Expected IntendedAbsent with no shared top-level key")
	}
	if result.State() != ComplianceStateMissing {
		t.Errorf("Expected state %s, got %s", ComplianceStateMissing, result.State())
	}
}

func TestCompareDocuments_MalformedDocument(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	_, err := e.Compare(context.Background(), device, feature,
		documentSnapshot(device.ID, feature.Name, `{"ok": true}`),
		documentSnapshot(device.ID, feature.Name, `{not json`))
	if err == nil {
		t.Fatal("Expected error for malformed document, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation class, got %v", err)
	}
}

func TestCompareDocuments_TextFallback(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := jsonFeature("telemetry")

	intended := &ConfigSnapshot{DeviceID: device.ID, Feature: feature.Name, Text: `{"a": 1}`}
	actual := &ConfigSnapshot{DeviceID: device.ID, Feature: feature.Name, Text: `{"a": 1}`}

	result, err := e.Compare(context.Background(), device, feature, intended, actual)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Compliant {
		t.Error("Expected text payloads to be compared structurally")
	}
}

func TestPathKey(t *testing.T) {
	cases := map[string]string{
		"groups[0].neighbors": "groups.neighbors",
		"resolvers":           "resolvers",
		"a[12].b[3].c":        "a.b.c",
		"":                    "",
	}
	for in, want := range cases {
		if got := pathKey(in); got != want {
			t.Errorf("pathKey(%q): expected %q, got %q", in, want, got)
		}
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterComparator(t *testing.T) {
	e := NewDiffEngine(nil)

	fn := func(ctx context.Context, intended, actual *ConfigSnapshot) ([]DiffEntry, []DiffEntry, []DiffEntry, error) {
		return nil, nil, nil, nil
	}

	if err := e.RegisterComparator("exact", fn); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if err := e.RegisterComparator("exact", fn); err == nil {
		t.Error("Expected error for duplicate comparator name")
	}
	if err := e.RegisterComparator("", fn); err == nil {
		t.Error("Expected error for empty comparator name")
	}
	if err := e.RegisterComparator("nil-fn", nil); err == nil {
		t.Error("Expected error for nil comparator")
	}
}

func TestCompare_InputValidation(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()
	feature := cliFeature("interfaces")
	snap := snapshot(device.ID, feature.Name, "line")

	ctx := context.Background()

	if _, err := e.Compare(ctx, nil, feature, snap, snap); err == nil {
		t.Error("Expected error for nil device")
	}
	if _, err := e.Compare(ctx, device, nil, snap, snap); err == nil {
		t.Error("Expected error for nil feature")
	}
	if _, err := e.Compare(ctx, device, feature, nil, snap); err == nil {
		t.Error("Expected error for nil intended snapshot")
	}
	if _, err := e.Compare(ctx, device, feature, snap, nil); err == nil {
		t.Error("Expected error for nil actual snapshot")
	}

	bad := cliFeature("bad")
	bad.Strategy = StrategyKind("xml")
	if _, err := e.Compare(ctx, device, bad, snap, snap); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestCompareCustom_Dispatch(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	var gotIntended, gotActual string
	err := e.RegisterComparator("record-inputs", func(ctx context.Context, intended, actual *ConfigSnapshot) ([]DiffEntry, []DiffEntry, []DiffEntry, error) {
		gotIntended = intended.Text
		gotActual = actual.Text
		return []DiffEntry{{Action: DiffActionAdded, Line: "only intended", Indent: ""}}, nil, nil, nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	feature := &ConfigFeature{
		Name:       "custom",
		Platform:   "ios",
		Strategy:   StrategyCustom,
		Comparator: "record-inputs",
	}

	result, err := e.Compare(context.Background(), device, feature,
		snapshot(device.ID, feature.Name, "only intended  \n\n"),
		snapshot(device.ID, feature.Name, "actual line"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if gotIntended != "only intended" {
		t.Errorf("Expected normalized intended text, got %q", gotIntended)
	}
	if gotActual != "actual line" {
		t.Errorf("Expected normalized actual text, got %q", gotActual)
	}

	if result.Strategy != StrategyCustom {
		t.Errorf("Expected strategy %s, got %s", StrategyCustom, result.Strategy)
	}
	if result.Compliant {
		t.Error("Expected non-compliant result from comparator entries")
	}
	if result.Missing != "only intended" {
		t.Errorf("Expected missing text from line entries, got %q", result.Missing)
	}
}

func TestCompareCustom_UnknownComparator(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	feature := &ConfigFeature{
		Name:       "custom",
		Platform:   "ios",
		Strategy:   StrategyCustom,
		Comparator: "never-registered",
	}
	snap := snapshot(device.ID, feature.Name, "line")

	_, err := e.Compare(context.Background(), device, feature, snap, snap)
	if err == nil {
		t.Fatal("Expected error for unknown comparator, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation class, got %v", err)
	}
}

func TestCompareCustom_MissingComparatorName(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	feature := &ConfigFeature{
		Name:     "custom",
		Platform: "ios",
		Strategy: StrategyCustom,
	}
	snap := snapshot(device.ID, feature.Name, "line")

	_, err := e.Compare(context.Background(), device, feature, snap, snap)
	if err == nil {
		t.Fatal("Expected error for missing comparator name, got nil")
	}
}

func TestCompareCustom_ErrorPassthrough(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	classified := NewTransientError("backend unavailable", nil)
	if err := e.RegisterComparator("fails-classified", func(ctx context.Context, intended, actual *ConfigSnapshot) ([]DiffEntry, []DiffEntry, []DiffEntry, error) {
		return nil, nil, nil, classified
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := e.RegisterComparator("fails-plain", func(ctx context.Context, intended, actual *ConfigSnapshot) ([]DiffEntry, []DiffEntry, []DiffEntry, error) {
		return nil, nil, nil, errors.New("boom")
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	feature := &ConfigFeature{Name: "custom", Platform: "ios", Strategy: StrategyCustom, Comparator: "fails-classified"}
	snap := snapshot(device.ID, feature.Name, "line")

	_, err := e.Compare(context.Background(), device, feature, snap, snap)
	if !IsTransient(err) {
		t.Errorf("Expected classified error to pass through, got %v", err)
	}

	feature.Comparator = "fails-plain"
	_, err = e.Compare(context.Background(), device, feature, snap, snap)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected plain error wrapped as permanent, got %v", err)
	}
}

func TestCompareCustom_CompliantResult(t *testing.T) {
	e := NewDiffEngine(nil)
	device := testDevice()

	if err := e.RegisterComparator("always-equal", func(ctx context.Context, intended, actual *ConfigSnapshot) ([]DiffEntry, []DiffEntry, []DiffEntry, error) {
		return nil, nil, nil, nil
	}); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	feature := &ConfigFeature{Name: "custom", Platform: "ios", Strategy: StrategyCustom, Comparator: "always-equal"}

	result, err := e.Compare(context.Background(), device, feature,
		snapshot(device.ID, feature.Name, "a"),
		snapshot(device.ID, feature.Name, "b"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !result.Compliant {
		t.Error("Expected compliant result when comparator reports no entries")
	}
}

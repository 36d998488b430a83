package rules

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openconform/openconform/pkg/engine"
)

func textSnapshot(deviceID, feature, text string) *engine.ConfigSnapshot {
	return &engine.ConfigSnapshot{
		DeviceID:   deviceID,
		Feature:    feature,
		Text:       text,
		CapturedAt: time.Now(),
	}
}

const lineSetScript = `
added = [l for l in intended["lines"] if l not in actual["lines"]]
removed = [l for l in actual["lines"] if l not in intended["lines"]]
compliant = len(added) == 0 and len(removed) == 0
`

func TestEvaluatorCompareFunc(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	compare := evaluator.CompareFunc(Comparator{Name: "line_set", Script: lineSetScript})

	intended := textSnapshot("dev-1", "ntp", "ntp server 10.0.0.1\nntp server 10.0.0.2")
	actual := textSnapshot("dev-1", "ntp", "ntp server 10.0.0.2\nntp server 192.0.2.9")

	added, removed, changed, err := compare(context.Background(), intended, actual)
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}

	if len(added) != 1 || added[0].Line != "ntp server 10.0.0.1" {
		t.Errorf("unexpected added entries: %+v", added)
	}
	if added[0].Action != engine.DiffActionAdded {
		t.Errorf("expected added action, got %s", added[0].Action)
	}
	if len(removed) != 1 || removed[0].Line != "ntp server 192.0.2.9" {
		t.Errorf("unexpected removed entries: %+v", removed)
	}
	if len(changed) != 0 {
		t.Errorf("expected no changed entries, got %+v", changed)
	}
}

func TestEvaluatorCompareFuncCompliant(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	compare := evaluator.CompareFunc(Comparator{Name: "line_set", Script: lineSetScript})

	text := "snmp-server community secret ro"
	added, removed, changed, err := compare(context.Background(),
		textSnapshot("dev-1", "snmp", text), textSnapshot("dev-1", "snmp", text))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(added)+len(removed)+len(changed) != 0 {
		t.Errorf("expected empty diff, got added=%v removed=%v changed=%v", added, removed, changed)
	}
}

func TestEvaluatorCompareFuncEmptySides(t *testing.T) {
	// Empty text must reach the script as an empty lines list, not None.
	evaluator := NewEvaluator(5 * time.Second)
	script := `
added = ["lines_not_empty"] if len(intended["lines"]) + len(actual["lines"]) > 0 else []
removed = []
`
	compare := evaluator.CompareFunc(Comparator{Name: "empty_check", Script: script})

	added, _, _, err := compare(context.Background(),
		textSnapshot("dev-1", "ntp", ""), textSnapshot("dev-1", "ntp", ""))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected empty added, got %v", added)
	}
}

func TestEvaluatorCompareFuncDictEntries(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	script := `
added = [{
    "line":    "speed 10000",
    "context": ["interface Ethernet1"],
}]
removed = []
changed = [{
    "path":   "interfaces.Ethernet1.mtu",
    "before": 1500,
    "after":  9214,
}]
`
	compare := evaluator.CompareFunc(Comparator{Name: "dict_entries", Script: script})

	added, removed, changed, err := compare(context.Background(),
		textSnapshot("dev-1", "interfaces", "a"), textSnapshot("dev-1", "interfaces", "b"))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}

	if len(added) != 1 {
		t.Fatalf("expected 1 added entry, got %d", len(added))
	}
	if added[0].Line != "speed 10000" {
		t.Errorf("unexpected added line: %q", added[0].Line)
	}
	if len(added[0].Context) != 1 || added[0].Context[0] != "interface Ethernet1" {
		t.Errorf("unexpected added context: %v", added[0].Context)
	}
	if len(removed) != 0 {
		t.Errorf("expected no removed entries, got %+v", removed)
	}

	if len(changed) != 1 {
		t.Fatalf("expected 1 changed entry, got %d", len(changed))
	}
	if changed[0].Path != "interfaces.Ethernet1.mtu" {
		t.Errorf("unexpected changed path: %q", changed[0].Path)
	}
	if changed[0].Before != int64(1500) || changed[0].After != int64(9214) {
		t.Errorf("unexpected changed values: before=%v after=%v", changed[0].Before, changed[0].After)
	}
}

func TestEvaluatorCompareFuncInconsistentCompliant(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	script := `
added = ["ntp server 10.0.0.1"]
removed = []
compliant = True
`
	compare := evaluator.CompareFunc(Comparator{Name: "broken", Script: script})

	_, _, _, err := compare(context.Background(),
		textSnapshot("dev-1", "ntp", "a"), textSnapshot("dev-1", "ntp", "b"))
	if err == nil {
		t.Fatal("expected error for compliant=True with diff entries")
	}
	if !strings.Contains(err.Error(), "disagrees") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluatorCompareFuncBadOutput(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)

	tests := []struct {
		name   string
		script string
	}{
		{
			name:   "added not a list",
			script: `added = "ntp server 10.0.0.1"`,
		},
		{
			name:   "element is a number",
			script: `added = [42]`,
		},
		{
			name: "dict without line or path",
			script: `
added = [{"before": 1}]
`,
		},
		{
			name:   "script error",
			script: `fail("boom")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compare := evaluator.CompareFunc(Comparator{Name: "bad", Script: tt.script})
			_, _, _, err := compare(context.Background(),
				textSnapshot("dev-1", "ntp", "a"), textSnapshot("dev-1", "ntp", "b"))
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEvaluatorCompareFuncHelperFunctions(t *testing.T) {
	// Scripts defining helper functions must not break output conversion.
	evaluator := NewEvaluator(5 * time.Second)
	script := `
def only_in(a, b):
    return [l for l in a if l not in b]

added = only_in(intended["lines"], actual["lines"])
removed = only_in(actual["lines"], intended["lines"])
`
	compare := evaluator.CompareFunc(Comparator{Name: "helpers", Script: script})

	added, removed, _, err := compare(context.Background(),
		textSnapshot("dev-1", "ntp", "ntp server 10.0.0.1"), textSnapshot("dev-1", "ntp", ""))
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(added) != 1 || len(removed) != 0 {
		t.Errorf("unexpected diff: added=%v removed=%v", added, removed)
	}
}

func TestEvaluatorTimeout(t *testing.T) {
	evaluator := NewEvaluator(100 * time.Millisecond)
	script := `
def slow():
    total = 0
    for i in range(10000000):
        total = total + i
    return total

added = [str(slow())]
removed = []
`
	compare := evaluator.CompareFunc(Comparator{Name: "slow", Script: script})

	_, _, _, err := compare(context.Background(),
		textSnapshot("dev-1", "ntp", "a"), textSnapshot("dev-1", "ntp", "b"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvaluatorPerComparatorTimeout(t *testing.T) {
	// A comparator's own timeout overrides the evaluator default.
	evaluator := NewEvaluator(5 * time.Second)
	comparator := Comparator{
		Name:           "slow",
		TimeoutSeconds: 1,
		Script: `
def slow():
    total = 0
    for i in range(100000000):
        total = total + i
    return total

added = [str(slow())]
removed = []
`,
	}
	compare := evaluator.CompareFunc(comparator)

	start := time.Now()
	_, _, _, err := compare(context.Background(),
		textSnapshot("dev-1", "ntp", "a"), textSnapshot("dev-1", "ntp", "b"))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestEvaluatorCheck(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{
			name:    "valid script",
			script:  lineSetScript,
			wantErr: false,
		},
		{
			name:    "predeclared names resolve",
			script:  `added = intended["lines"] + actual["lines"]`,
			wantErr: false,
		},
		{
			name:    "syntax error",
			script:  `def broken(:`,
			wantErr: true,
		},
		{
			name:    "undefined name",
			script:  `added = no_such_name`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := evaluator.Check(Comparator{Name: "check", Script: tt.script})
			if tt.wantErr && err == nil {
				t.Error("expected error, got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestEvaluatorRegisterComparators(t *testing.T) {
	evaluator := NewEvaluator(5 * time.Second)
	diffEngine := engine.NewDiffEngine(nil)

	ruleSet := &RuleSet{
		Comparators: map[string]Comparator{
			"line_set": {Name: "line_set", Script: lineSetScript},
			"noop":     {Name: "noop", Script: "added = []\nremoved = []"},
		},
	}

	if err := evaluator.RegisterComparators(diffEngine, ruleSet); err != nil {
		t.Fatalf("RegisterComparators failed: %v", err)
	}

	// Registered comparators serve the custom strategy end to end.
	device := &engine.Device{ID: "dev-1", Name: "sw-1", Platform: "cisco_ios"}
	feature := &engine.ConfigFeature{
		Name:       "ntp",
		Platform:   "cisco_ios",
		Strategy:   engine.StrategyCustom,
		Comparator: "line_set",
	}
	result, err := diffEngine.Compare(context.Background(), device, feature,
		textSnapshot("dev-1", "ntp", "ntp server 10.0.0.1"),
		textSnapshot("dev-1", "ntp", "ntp server 10.0.0.1"))
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if !result.Compliant {
		t.Errorf("expected compliant result, got %+v", result)
	}

	// Names already registered fail the second registration.
	if err := evaluator.RegisterComparators(diffEngine, ruleSet); err == nil {
		t.Error("expected duplicate registration error")
	}
}

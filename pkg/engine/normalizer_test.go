package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNormalizeText_StripsWhitespaceAndBlanks(t *testing.T) {
	n := NewNormalizer()

	text := "interface GigabitEthernet0/1   \n\n  description uplink\t\n   \nip mtu 9000\r\n"
	lines, err := n.NormalizeText(nil, text)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := []string{
		"interface GigabitEthernet0/1",
		"  description uplink",
		"ip mtu 9000",
	}
	if len(lines) != len(expected) {
		t.Fatalf("Expected %d lines, got %d: %v", len(expected), len(lines), lines)
	}
	for i, want := range expected {
		if lines[i] != want {
			t.Errorf("Line %d: expected %q, got %q", i, want, lines[i])
		}
	}
}

func TestNormalizeText_RemoveRules(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{
		Name:     "interfaces",
		Platform: "ios",
		Strategy: StrategyCLI,
		RemoveRules: []LineRule{
			{Pattern: `^! Last configuration change`},
			{Pattern: `^ntp clock-period`},
		},
	}

	text := strings.Join([]string{
		"! Last configuration change at 10:00",
		"interface GigabitEthernet0/1",
		"ntp clock-period 17179869",
		"ntp server 10.0.0.1",
	}, "\n")

	lines, err := n.NormalizeText(feature, text)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[0] != "interface GigabitEthernet0/1" {
		t.Errorf("Expected interface line first, got %q", lines[0])
	}
	if lines[1] != "ntp server 10.0.0.1" {
		t.Errorf("Expected ntp server line, got %q", lines[1])
	}
}

func TestNormalizeText_ReplaceRules(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{
		Name:     "snmp",
		Platform: "ios",
		Strategy: StrategyCLI,
		ReplaceRules: []LineRule{
			{Pattern: `community \S+`, Replace: "community <redacted>"},
		},
	}

	lines, err := n.NormalizeText(feature, "snmp-server community s3cret RO")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0] != "snmp-server community <redacted> RO" {
		t.Errorf("Expected redacted line, got %q", lines[0])
	}
}

func TestNormalizeText_ReplaceToEmptyDropsLine(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{
		Name:     "banner",
		Platform: "ios",
		Strategy: StrategyCLI,
		ReplaceRules: []LineRule{
			{Pattern: `^banner motd.*$`, Replace: ""},
		},
	}

	lines, err := n.NormalizeText(feature, "banner motd ^Welcome^\nhostname edge-01")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(lines) != 1 || lines[0] != "hostname edge-01" {
		t.Errorf("Expected only hostname line, got %v", lines)
	}
}

func TestNormalizeText_InvalidPattern(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{
		Name:     "broken",
		Platform: "ios",
		Strategy: StrategyCLI,
		RemoveRules: []LineRule{
			{Pattern: `([unclosed`},
		},
	}

	_, err := n.NormalizeText(feature, "anything")
	if err == nil {
		t.Fatal("Expected error for invalid pattern, got nil")
	}
	if !IsValidation(err) {
		t.Errorf("Expected validation class error, got %v", err)
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	if engErr.Code != ErrCodeMalformedInput {
		t.Errorf("Expected code %s, got %s", ErrCodeMalformedInput, engErr.Code)
	}
}

func TestNormalizeDocument_CanonicalForm(t *testing.T) {
	n := NewNormalizer()

	a, err := n.NormalizeDocument(nil, json.RawMessage(`{"b":1,"a":{"d":true,"c":"x"}}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	b, err := n.NormalizeDocument(nil, json.RawMessage(`{
		"a": {"c": "x", "d": true},
		"b": 1
	}`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if string(a) != string(b) {
		t.Errorf("Expected identical canonical forms, got %q and %q", a, b)
	}
}

func TestNormalizeDocument_InvalidJSON(t *testing.T) {
	n := NewNormalizer()

	cases := []string{
		`{"a":`,
		`{"a":1} trailing`,
		``,
	}
	for _, raw := range cases {
		_, err := n.NormalizeDocument(nil, json.RawMessage(raw))
		if err == nil {
			t.Errorf("Expected error for payload %q, got nil", raw)
		}
	}
}

func TestExtractFeature(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{
		Name:          "ntp",
		Platform:      "ios",
		Strategy:      StrategyCLI,
		MatchPatterns: []string{`^ntp `},
	}

	text := strings.Join([]string{
		"hostname edge-01",
		"ntp server 10.0.0.1",
		"  prefer",
		"interface GigabitEthernet0/1",
		"  description uplink",
		"ntp server 10.0.0.2",
	}, "\n")

	section, err := n.ExtractFeature(feature, text)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	expected := "ntp server 10.0.0.1\n  prefer\nntp server 10.0.0.2"
	if section != expected {
		t.Errorf("Expected section %q, got %q", expected, section)
	}
}

func TestExtractFeature_NoPatternsKeepsAll(t *testing.T) {
	n := NewNormalizer()

	feature := &ConfigFeature{Name: "all", Platform: "ios", Strategy: StrategyCLI}
	text := "line one\nline two"

	section, err := n.ExtractFeature(feature, text)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if section != text {
		t.Errorf("Expected full text back, got %q", section)
	}
}

func TestSortBlocks(t *testing.T) {
	lines := []string{
		"interface GigabitEthernet0/2",
		"  switchport mode access",
		"  description b",
		"interface GigabitEthernet0/1",
		"  description a",
	}

	sorted := SortBlocks(lines)

	expected := []string{
		"interface GigabitEthernet0/1",
		"  description a",
		"interface GigabitEthernet0/2",
		"  description b",
		"  switchport mode access",
	}
	if len(sorted) != len(expected) {
		t.Fatalf("Expected %d lines, got %d", len(expected), len(sorted))
	}
	for i, want := range expected {
		if sorted[i] != want {
			t.Errorf("Line %d: expected %q, got %q", i, want, sorted[i])
		}
	}
}

func TestSortBlocks_ChildrenTravelWithParent(t *testing.T) {
	lines := []string{
		"router bgp 65000",
		"  neighbor 10.0.0.2",
		"    remote-as 65001",
		"access-list 10 permit any",
	}

	sorted := SortBlocks(lines)

	if sorted[0] != "access-list 10 permit any" {
		t.Errorf("Expected access-list first, got %q", sorted[0])
	}
	if sorted[1] != "router bgp 65000" || sorted[2] != "  neighbor 10.0.0.2" || sorted[3] != "    remote-as 65001" {
		t.Errorf("Expected bgp block to stay intact, got %v", sorted)
	}
}

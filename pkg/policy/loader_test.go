package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "freeze-core.rego", `# Blocks changes to core devices
# during the quarterly freeze.
package custom.policies.freeze

import rego.v1

deny contains "frozen" if {
	input.context.environment == "production"
}`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected one policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "freeze-core" {
		t.Errorf("policy name should come from the file name, got %q", p.Name)
	}
	if p.Description != "Blocks changes to core devices during the quarterly freeze." {
		t.Errorf("description should come from the leading comments, got %q", p.Description)
	}
	if !p.Enabled {
		t.Error("loaded policies should be enabled by default")
	}
	if p.Builtin {
		t.Error("loaded policies must not be marked built-in")
	}
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.json", `{
		"name": "no-weekend-deploys",
		"description": "Blocks weekend deployments",
		"severity": "error",
		"enabled": true,
		"rego": "package custom.policies.weekend\n\nimport rego.v1\n\ndeny contains \"weekend\" if { false }"
	}`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected one policy, got %d", len(policies))
	}
	if policies[0].Name != "no-weekend-deploys" {
		t.Errorf("unexpected policy name %q", policies[0].Name)
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("unexpected severity %q", policies[0].Severity)
	}
}

func TestLoadJSONFileMissingFields(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	noName := writeFile(t, dir, "no-name.json", `{"rego": "package x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{noName}); err == nil {
		t.Error("JSON policy without a name should fail to load")
	}

	noRego := writeFile(t, dir, "no-rego.json", `{"name": "empty"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{noRego}); err == nil {
		t.Error("JSON policy without rego should fail to load")
	}
}

func TestLoadDirectorySkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.rego", "package custom.a\n\nimport rego.v1\n")
	writeFile(t, dir, "b.rego", "package custom.b\n\nimport rego.v1\n")
	writeFile(t, dir, "README.md", "not a policy")
	writeFile(t, dir, "notes.txt", "also not a policy")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected two policies from the directory, got %d", len(policies))
	}
}

func TestLoadDirectorySkipsBadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.rego", "package custom.good\n")
	writeFile(t, dir, "bad.json", "{not json")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("a bad file in a directory should be skipped, not fatal: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected the good policy to survive, got %d", len(policies))
	}
}

func TestLoadMissingPath(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"}); err == nil {
		t.Error("missing path should fail to load")
	}
}

func TestExtractDescriptionStopsAtCode(t *testing.T) {
	desc := extractDescription("# first line\n# second line\npackage x\n# not part of it")
	if desc != "first line second line" {
		t.Errorf("unexpected description %q", desc)
	}

	if got := extractDescription("package x\n# trailing"); got != "" {
		t.Errorf("expected empty description, got %q", got)
	}
}

package rules

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openconform/openconform/pkg/engine"
)

// SchemaRegistry manages CUE schemas for rule validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("feature", builtinFeatureSchema)
	sr.RegisterSchema("platform", builtinPlatformSchema)
	sr.RegisterSchema("comparator", builtinComparatorSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE and unify with the schema definition
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath(definitionName(schemaName)))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition", schemaName)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// definitionName maps a schema name to its CUE definition.
func definitionName(schemaName string) string {
	switch schemaName {
	case "feature":
		return "#Feature"
	case "platform":
		return "#PlatformRules"
	case "comparator":
		return "#Comparator"
	default:
		return "#" + schemaName
	}
}

// Built-in schema definitions

const builtinFeatureSchema = `
// Feature schema for config feature definitions
#LineRule: {
	// Pattern is the regular expression matched against each line
	pattern: string & !=""

	// Replace is the substitution text; empty deletes the line
	replace?: string
}

#Feature: {
	// Name is the feature name (e.g., "interfaces", "ntp", "aaa")
	name: string & =~"^[a-z0-9][a-z0-9_-]*$"

	// Platform is the network OS this definition applies to
	platform: string & =~"^[a-z0-9][a-z0-9_]*$"

	// Strategy selects how intended and actual are compared
	strategy: "cli" | "json" | "custom"

	// Comparator names the comparison script for the custom strategy
	comparator?: string & !=""

	// Custom strategy requires a comparator
	if strategy == "custom" {
		comparator: string & !=""
	}

	// MatchPatterns are section anchors extracting this feature from a
	// full configuration
	match_patterns?: [...string & !=""]

	// OrderInsensitive sorts sibling lines before comparison
	order_insensitive?: bool

	// SetPaths are key paths compared as unordered collections (json only)
	set_paths?: [...string & !=""]

	// RemoveRules delete volatile lines before comparison
	remove_rules?: [...#LineRule]

	// ReplaceRules mask secrets before comparison
	replace_rules?: [...#LineRule]
}
`

const builtinPlatformSchema = `
// Platform schema for per-platform remediation rules
#RemediationRule: {
	// Match is a regular expression tested against diff lines
	match: string & !=""

	// AddCommand is the template for lines missing from the device
	add_command?: string

	// RemoveCommand is the template for lines present only on the device
	remove_command?: string
}

#PlatformRules: {
	// Platform is the network OS these rules apply to
	platform: string & =~"^[a-z0-9][a-z0-9_]*$"

	// NegatePrefix is prepended to a line to undo it
	negate_prefix?: string

	// IdempotentPatterns list commands where asserting the intended value
	// overwrites the running one
	idempotent_patterns?: [...string & !=""]

	// Rules map diff elements to commands; at least one is required
	rules: [...#RemediationRule] & [_, ...]
}
`

const builtinComparatorSchema = `
// Comparator schema for custom comparison scripts
#Comparator: {
	// Name is the comparator name features refer to
	name: string & =~"^[a-z0-9][a-z0-9_-]*$"

	// Script is the Starlark source
	script: string & !=""

	// TimeoutSeconds caps script execution
	timeout_seconds?: int & >0 & <=300
}
`

// ValidateFeature validates a feature definition against the feature schema.
func (sr *SchemaRegistry) ValidateFeature(ctx context.Context, feature engine.ConfigFeature) error {
	return sr.ValidateAgainstSchema(ctx, "feature", feature)
}

// ValidatePlatformRules validates a platform rule set against the platform
// schema.
func (sr *SchemaRegistry) ValidatePlatformRules(ctx context.Context, rules engine.PlatformRules) error {
	return sr.ValidateAgainstSchema(ctx, "platform", rules)
}

// ValidateComparator validates a comparator definition against the comparator
// schema.
func (sr *SchemaRegistry) ValidateComparator(ctx context.Context, comparator Comparator) error {
	return sr.ValidateAgainstSchema(ctx, "comparator", comparator)
}

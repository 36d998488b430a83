package rules

import (
	"fmt"
	"time"

	"github.com/openconform/openconform/pkg/engine"
)

// RuleSet is the parsed and validated output of one Load call: the feature
// definitions, per-platform remediation rules, and custom comparators from a
// set of CUE sources. A RuleSet is immutable once returned; hot reload swaps
// whole sets rather than mutating one in place.
type RuleSet struct {
	// Features are the per-platform feature definitions.
	Features []engine.ConfigFeature `json:"features"`

	// Platforms are the per-platform remediation rule sets.
	Platforms []engine.PlatformRules `json:"platforms"`

	// Comparators are the custom comparison scripts, keyed by name.
	Comparators map[string]Comparator `json:"comparators,omitempty"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// LoadedAt is when the rule set was loaded.
	LoadedAt time.Time `json:"loaded_at"`

	// Errors are validation errors found during loading. A rule set with
	// errors must not be handed to the diff engine.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Comparator is a named Starlark comparison script referenced by features
// using the custom strategy.
type Comparator struct {
	// Name is the comparator name features refer to.
	Name string `json:"name" validate:"required"`

	// Script is the Starlark source. The script sees intended and actual
	// dicts and assigns added, removed, and compliant globals.
	Script string `json:"script" validate:"required"`

	// TimeoutSeconds caps script execution. Zero uses the evaluator default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" validate:"gte=0"`
}

// ValidationError describes a single problem found while loading rule files.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "features.cisco_ios.ntp").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// Valid reports whether the rule set loaded without errors. Warnings do not
// make a set invalid.
func (rs *RuleSet) Valid() bool {
	for i := range rs.Errors {
		if rs.Errors[i].Severity == "error" {
			return false
		}
	}
	return true
}

// FeatureFor returns the feature definition for a (platform, name) pair.
func (rs *RuleSet) FeatureFor(platform, name string) (*engine.ConfigFeature, bool) {
	for i := range rs.Features {
		if rs.Features[i].Platform == platform && rs.Features[i].Name == name {
			return &rs.Features[i], true
		}
	}
	return nil, false
}

// FeaturesFor returns all feature definitions for a platform, in the order
// they were declared.
func (rs *RuleSet) FeaturesFor(platform string) []engine.ConfigFeature {
	var features []engine.ConfigFeature
	for i := range rs.Features {
		if rs.Features[i].Platform == platform {
			features = append(features, rs.Features[i])
		}
	}
	return features
}

// RulesFor returns the remediation rule set for a platform.
func (rs *RuleSet) RulesFor(platform string) (*engine.PlatformRules, bool) {
	for i := range rs.Platforms {
		if rs.Platforms[i].Platform == platform {
			return &rs.Platforms[i], true
		}
	}
	return nil, false
}

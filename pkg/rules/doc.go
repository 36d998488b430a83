// Package rules loads feature and remediation rule definitions from CUE
// sources and provides Starlark custom comparators to the diff engine.
//
// # Overview
//
// Everything platform-specific about drift detection lives in rule files:
// which config features exist per platform, how each feature is extracted and
// compared, which lines are volatile or secret, and how diff elements
// translate into remediation commands. Rule files are CUE, so collections
// from multiple files unify into one typed, validated value before anything
// reaches the engine.
//
// # Rule File Structure
//
//	features: cisco_ios: {
//	    ntp: {
//	        strategy:       "cli"
//	        match_patterns: ["^ntp "]
//	    }
//	    banner: {
//	        strategy:   "custom"
//	        comparator: "banner_text"
//	    }
//	}
//
//	platforms: cisco_ios: {
//	    negate_prefix: "no "
//	    rules: [
//	        {match: "^ntp server (\\S+)", add_command: "ntp server $1"},
//	    ]
//	}
//
//	comparators: banner_text: {
//	    script: """
//	        added = [l for l in intended["lines"] if l not in actual["lines"]]
//	        removed = [l for l in actual["lines"] if l not in intended["lines"]]
//	        compliant = len(added) == 0 and len(removed) == 0
//	        """
//	}
//
// Features may also be declared as a list with explicit name and platform
// fields; the two-level struct form fills both from its keys.
//
// # Components
//
// Loader: Parses CUE sources into a RuleSet. Problems are collected into the
// set's Errors with file positions rather than aborting, and cross-reference
// checks catch dangling comparator names and duplicate definitions. Watch
// reloads rule paths on change, keeping the previous set when an edit does
// not validate.
//
// SchemaRegistry: Built-in CUE schemas for feature, platform, and comparator
// definitions. Decoded values are validated against the schemas during
// extraction, so constraints like "custom strategy requires a comparator"
// hold no matter how the value was written.
//
// Evaluator: Sandboxed Starlark execution for comparator scripts with a hard
// timeout. CompareFunc bridges a script to the engine's comparison contract;
// RegisterComparators wires a whole rule set into a DiffEngine.
//
// # Comparator Scripts
//
// A script sees intended and actual dicts (device_id, feature, text, lines)
// holding the canonical text of each side. It assigns added and removed
// globals listing the differing elements, either plain line strings or dicts
// with line, path, context, before, and after keys. An optional compliant
// bool is cross-checked against the emitted entries. Scripts run with no
// filesystem or network access and print suppressed.
package rules

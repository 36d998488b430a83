// Package policy provides the Open Policy Agent (OPA) deployment gate for
// OpenConform.
//
// Before the orchestrator dispatches a config plan to any device, the gate
// evaluates the plan against built-in and user-supplied Rego policies.
// Violations with severity error or critical block the whole deployment;
// warnings are recorded on the deployment summary and logged.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Gate - Compiles and evaluates Rego policies against plans
//  2. Loader - Loads policies from files and directories, with hot reload
//  3. Types - Data structures for policies, violations, and gate results
//  4. Built-in Policies - Pre-defined deployment guardrails
//
// # Usage
//
// Creating a gate and checking a plan:
//
//	logger := zerolog.New(os.Stdout)
//	gate, err := policy.NewGate(policy.GateConfig{
//	    Environment:    "production",
//	    MaxPlanEntries: 50,
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	warnings, err := gate.CheckDeploy(ctx, plan, &opts)
//	if err != nil {
//	    // deployment denied; err names the blocking violations
//	}
//
// Loading custom policies:
//
//	err = gate.LoadPolicies(ctx, []string{"/etc/conform/policies"})
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. change-control-required - Plans must carry a change-control reference
//  2. forbidden-commands - Blocks destructive device commands (erase,
//     format, write erase, reload outside a maintenance window)
//  3. blast-radius - Caps the number of devices one plan may touch
//
// # Custom Policies
//
// Custom policies are written in Rego and loaded from .rego files. The input
// document carries the plan, the deploy options, and the gate context:
//
//	package custom.policies.core_freeze
//
//	import rego.v1
//
//	deny contains violation if {
//	    some entry in input.plan.entries
//	    startswith(entry.device_name, "core-")
//	    input.context.environment == "production"
//
//	    violation := {
//	        "message": sprintf("Core device %s is frozen", [entry.device_name]),
//	        "severity": "error",
//	        "device": entry.device_id,
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: Informational messages
//   - warning: Issues that should be reviewed but don't block deployment
//   - error: Issues that block deployment
//   - critical: Severe issues that block deployment
//
// # Hot Reload
//
// The loader supports watching policy paths for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return gate.ReplaceUserPolicies(policies)
//	})
//
// A policy file that no longer compiles keeps the previous compiled set in
// place rather than silently disabling the gate.
package policy

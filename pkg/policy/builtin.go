package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in deployment policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		changeControlPolicy(),
		forbiddenCommandsPolicy(),
		blastRadiusPolicy(),
	}
}

// changeControlPolicy requires a change-control reference on every plan.
// Manual plans in a development environment are downgraded to a warning so
// ad-hoc lab work stays possible.
func changeControlPolicy() Policy {
	return Policy{
		Name:        "change-control-required",
		Description: "Requires a change-control reference before a plan can be deployed",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"change-control", "governance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openconform.policies.change_control

import rego.v1

deny contains violation if {
	input.plan
	not input.plan.change_control_id
	input.plan.plan_type != "manual"

	violation := {
		"message": sprintf("Plan %s carries no change-control reference", [input.plan.name]),
		"severity": "error",
	}
}

deny contains violation if {
	input.plan
	not input.plan.change_control_id
	input.plan.plan_type == "manual"
	input.context.environment == "development"

	violation := {
		"message": sprintf("Manual plan %s carries no change-control reference", [input.plan.name]),
		"severity": "warning",
	}
}

deny contains violation if {
	input.plan
	not input.plan.change_control_id
	input.plan.plan_type == "manual"
	input.context.environment != "development"

	violation := {
		"message": sprintf("Manual plan %s carries no change-control reference", [input.plan.name]),
		"severity": "error",
	}
}`,
	}
}

// forbiddenCommandsPolicy blocks plans whose entries contain destructive
// commands. Device reloads are allowed only inside a maintenance window.
func forbiddenCommandsPolicy() Policy {
	return Policy{
		Name:        "forbidden-commands",
		Description: "Blocks destructive device commands (erase, format, write erase, reload outside a maintenance window)",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "commands"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openconform.policies.forbidden_commands

import rego.v1

always_forbidden := ["write erase", "erase ", "format "]

deny contains violation if {
	some entry in input.plan.entries
	some cmd in entry.commands
	some pattern in always_forbidden
	startswith(trim_space(cmd), pattern)

	violation := {
		"message": sprintf("Entry for %s contains forbidden command %q", [entry.device_name, cmd]),
		"severity": "critical",
		"device": entry.device_id,
	}
}

deny contains violation if {
	some entry in input.plan.entries
	some cmd in entry.commands
	startswith(trim_space(cmd), "reload")
	not input.context.maintenance_window

	violation := {
		"message": sprintf("Entry for %s reloads the device outside a maintenance window", [entry.device_name]),
		"severity": "critical",
		"device": entry.device_id,
	}
}`,
	}
}

// blastRadiusPolicy caps the number of devices one plan may touch. The cap
// comes from the gate configuration; an explicit override acknowledges an
// oversized plan.
func blastRadiusPolicy() Policy {
	return Policy{
		Name:        "blast-radius",
		Description: "Caps the number of devices a single plan may touch without an explicit override",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "scope"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package openconform.policies.blast_radius

import rego.v1

deny contains violation if {
	max := input.context.max_plan_entries
	max > 0
	count(input.plan.entries) > max
	not input.context.blast_radius_override

	violation := {
		"message": sprintf("Plan touches %d devices, exceeding the configured maximum of %d", [count(input.plan.entries), max]),
		"severity": "error",
	}
}`,
	}
}

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlanRequest describes one config plan to build.
type PlanRequest struct {
	// Name is the plan name. Empty generates one from the type and time.
	Name string `json:"name,omitempty"`

	// Type selects the command-set source.
	Type PlanType `json:"plan_type"`

	// Filter selects the target devices. An empty filter targets the whole
	// inventory.
	Filter DeviceFilter `json:"filter"`

	// Features restricts the plan to the named features. Empty means every
	// feature with stored results.
	Features []string `json:"features,omitempty"`

	// ChangeControlID is an opaque change-control reference. A plan built
	// with one starts out approved.
	ChangeControlID string `json:"change_control_id,omitempty"`

	// ChangeControlURL links to the change-control record.
	ChangeControlURL string `json:"change_control_url,omitempty"`

	// ManualCommands is the operator-supplied command set for manual and
	// combination plans.
	ManualCommands []string `json:"manual_commands,omitempty"`

	// CreatedBy is the requesting user.
	CreatedBy string `json:"created_by,omitempty"`
}

// PlanBuilder builds config plans from stored compliance and remediation
// results. The device filter is resolved once at build time; the resulting
// plan holds a concrete device set and never re-evaluates the filter.
type PlanBuilder struct {
	// inventory resolves device filters
	inventory Inventory

	// configs supplies intended configuration snapshots
	configs ConfigSource

	// results supplies stored compliance and remediation results
	results ResultSource
}

// NewPlanBuilder creates a new plan builder.
func NewPlanBuilder(inventory Inventory, configs ConfigSource, results ResultSource) *PlanBuilder {
	return &PlanBuilder{
		inventory: inventory,
		configs:   configs,
		results:   results,
	}
}

// BuildPlan builds a config plan from the request. Devices whose command set
// comes out empty get no entry; a filter matching zero devices yields a
// valid empty plan. Entries are ordered by device name.
func (b *PlanBuilder) BuildPlan(ctx context.Context, req *PlanRequest) (*ConfigPlan, error) {
	if req == nil {
		return nil, NewValidationError("plan request is nil", nil)
	}
	if err := req.Type.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), nil)
	}
	if req.Type.RequiresManualCommands() && len(req.ManualCommands) == 0 {
		return nil, NewValidationError(fmt.Sprintf("plan type %s requires manual commands", req.Type), nil)
	}

	devices, err := b.inventory.ListDevices(ctx, &req.Filter)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	plan := &ConfigPlan{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Type:             req.Type,
		Filter:           req.Filter,
		Features:         req.Features,
		ChangeControlID:  req.ChangeControlID,
		ChangeControlURL: req.ChangeControlURL,
		Status:           PlanStatePendingApproval,
		CreatedBy:        req.CreatedBy,
		CreatedAt:        now,
		Entries:          make([]ConfigPlanEntry, 0, len(devices)),
	}
	if plan.Name == "" {
		plan.Name = fmt.Sprintf("%s-plan-%s", req.Type, now.Format("20060102150405"))
	}

	// A change-control reference stands in for an approval.
	if req.ChangeControlID != "" {
		plan.Status = PlanStateApproved
	}

	for _, device := range devices {
		commands, err := b.commandsForDevice(ctx, device, req)
		if err != nil {
			return nil, err
		}
		if len(commands) == 0 {
			continue
		}

		plan.Entries = append(plan.Entries, ConfigPlanEntry{
			ID:         uuid.New().String(),
			PlanID:     plan.ID,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Commands:   commands,
			Status:     JobStatusPending,
		})
	}

	return plan, nil
}

// commandsForDevice assembles the command set for one device according to
// the plan type.
func (b *PlanBuilder) commandsForDevice(ctx context.Context, device *Device, req *PlanRequest) ([]string, error) {
	switch req.Type {
	case PlanTypeManual:
		return append([]string(nil), req.ManualCommands...), nil

	case PlanTypeRemediation:
		return b.remediationCommands(ctx, device, req.Features)

	case PlanTypeIntended:
		return b.intendedCommands(ctx, device, req.Features)

	case PlanTypeMissing:
		return b.missingCommands(ctx, device, req.Features)

	case PlanTypeCombination:
		remediation, err := b.remediationCommands(ctx, device, req.Features)
		if err != nil {
			return nil, err
		}
		missing, err := b.missingCommands(ctx, device, req.Features)
		if err != nil {
			return nil, err
		}

		combined := make([]string, 0, len(remediation)+len(missing)+len(req.ManualCommands))
		combined = append(combined, remediation...)
		combined = append(combined, missing...)
		combined = append(combined, req.ManualCommands...)
		return dedupCommands(combined), nil

	default:
		return nil, NewValidationError(fmt.Sprintf("invalid plan type: %s", req.Type), nil)
	}
}

// planFeatures resolves the feature scope for one device.
func (b *PlanBuilder) planFeatures(ctx context.Context, device *Device, requested []string) ([]string, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	features, err := b.results.ListFeatures(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list features for device %s: %w", device.Name, err)
	}
	return features, nil
}

// remediationCommands collects the stored remediation command sets for the
// device's in-scope features. Features without a stored result contribute
// nothing.
func (b *PlanBuilder) remediationCommands(ctx context.Context, device *Device, requested []string) ([]string, error) {
	features, err := b.planFeatures(ctx, device, requested)
	if err != nil {
		return nil, err
	}

	var commands []string
	for _, feature := range features {
		remediation, err := b.results.LatestRemediation(ctx, device.ID, feature)
		if err != nil {
			return nil, fmt.Errorf("failed to load remediation for device %s feature %s: %w", device.Name, feature, err)
		}
		if remediation == nil {
			continue
		}
		commands = append(commands, remediation.Commands...)
	}

	return commands, nil
}

// intendedCommands collects the full intended configuration for the
// device's in-scope features, line by line.
func (b *PlanBuilder) intendedCommands(ctx context.Context, device *Device, requested []string) ([]string, error) {
	features, err := b.planFeatures(ctx, device, requested)
	if err != nil {
		return nil, err
	}

	var commands []string
	for _, feature := range features {
		snapshot, err := b.configs.GetIntended(ctx, device.ID, feature)
		if err != nil {
			return nil, fmt.Errorf("failed to load intended config for device %s feature %s: %w", device.Name, feature, err)
		}
		if snapshot == nil {
			continue
		}
		commands = append(commands, splitCommands(snapshot.Text)...)
	}

	return commands, nil
}

// missingCommands collects the intended commands of features that are
// entirely absent from the device. Features that are present but drifted
// contribute nothing; those belong to remediation plans.
func (b *PlanBuilder) missingCommands(ctx context.Context, device *Device, requested []string) ([]string, error) {
	features, err := b.planFeatures(ctx, device, requested)
	if err != nil {
		return nil, err
	}

	var commands []string
	for _, feature := range features {
		compliance, err := b.results.LatestCompliance(ctx, device.ID, feature)
		if err != nil {
			return nil, fmt.Errorf("failed to load compliance for device %s feature %s: %w", device.Name, feature, err)
		}
		if compliance == nil || !compliance.IntendedAbsent {
			continue
		}
		commands = append(commands, splitCommands(compliance.Missing)...)
	}

	return commands, nil
}

// splitCommands converts rendered configuration text into command lines.
func splitCommands(text string) []string {
	if text == "" {
		return nil
	}
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// dedupCommands drops repeated commands, keeping the first occurrence so
// ordering constraints between sources hold.
func dedupCommands(commands []string) []string {
	seen := make(map[string]bool, len(commands))
	out := make([]string, 0, len(commands))
	for _, cmd := range commands {
		if seen[cmd] {
			continue
		}
		seen[cmd] = true
		out = append(out, cmd)
	}
	return out
}

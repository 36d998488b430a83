package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openconform/openconform/pkg/stores"
)

// PlanStore persists config plans and their per-device entries.
type PlanStore struct {
	store stores.Store
}

// NewPlanStore creates a plan store backed by the persistent store.
func NewPlanStore(store stores.Store) *PlanStore {
	return &PlanStore{
		store: store,
	}
}

// SavePlan stores a newly built plan together with its entries.
func (p *PlanStore) SavePlan(ctx context.Context, plan *ConfigPlan) error {
	if plan == nil {
		return NewValidationError("plan is nil", nil)
	}

	record, entries, err := planToRecords(plan)
	if err != nil {
		return err
	}

	if err := p.store.SavePlan(ctx, record, entries); err != nil {
		return fmt.Errorf("failed to store plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan and its entries by ID.
func (p *PlanStore) GetPlan(ctx context.Context, planID string) (*ConfigPlan, error) {
	record, entries, err := p.store.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewPermanentError(fmt.Sprintf("plan not found: %s", planID), err).WithCode(ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return recordsToPlan(record, entries)
}

// ListPlans retrieves stored plans, optionally filtered by status. Entries
// are not loaded; use GetPlan for the full plan.
func (p *PlanStore) ListPlans(ctx context.Context, status PlanState, limit, offset int) ([]*ConfigPlan, error) {
	records, err := p.store.ListPlans(ctx, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	plans := make([]*ConfigPlan, 0, len(records))
	for _, record := range records {
		plan, err := recordsToPlan(record, nil)
		if err != nil {
			continue // Skip invalid entries
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Approve transitions a pending plan to approved so it can be deployed.
func (p *PlanStore) Approve(ctx context.Context, planID string) (*ConfigPlan, error) {
	plan, err := p.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != PlanStatePendingApproval {
		return nil, NewValidationError(fmt.Sprintf("plan %s is %s, only pending_approval plans can be approved", planID, plan.Status), nil)
	}

	if err := p.store.UpdatePlanStatus(ctx, planID, string(PlanStateApproved), nil); err != nil {
		return nil, fmt.Errorf("failed to approve plan: %w", err)
	}
	plan.Status = PlanStateApproved

	return plan, nil
}

// Cancel transitions a plan that has not completed to cancelled.
func (p *PlanStore) Cancel(ctx context.Context, planID string) (*ConfigPlan, error) {
	plan, err := p.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status == PlanStateCompleted || plan.Status == PlanStateCancelled {
		return nil, NewValidationError(fmt.Sprintf("plan %s is already %s", planID, plan.Status), nil)
	}

	if err := p.store.UpdatePlanStatus(ctx, planID, string(PlanStateCancelled), nil); err != nil {
		return nil, fmt.Errorf("failed to cancel plan: %w", err)
	}
	plan.Status = PlanStateCancelled

	return plan, nil
}

func planToRecords(plan *ConfigPlan) (*stores.PlanRecord, []*stores.PlanEntryRecord, error) {
	filter, err := json.Marshal(plan.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal plan filter: %w", err)
	}
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal plan features: %w", err)
	}

	record := &stores.PlanRecord{
		ID:               plan.ID,
		Name:             plan.Name,
		PlanType:         string(plan.Type),
		Filter:           string(filter),
		Features:         string(features),
		ChangeControlID:  plan.ChangeControlID,
		ChangeControlURL: plan.ChangeControlURL,
		Status:           string(plan.Status),
		CreatedBy:        plan.CreatedBy,
		CreatedAt:        plan.CreatedAt,
	}

	entries := make([]*stores.PlanEntryRecord, 0, len(plan.Entries))
	for _, entry := range plan.Entries {
		commands, err := json.Marshal(entry.Commands)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal entry commands: %w", err)
		}
		entries = append(entries, &stores.PlanEntryRecord{
			ID:         entry.ID,
			PlanID:     entry.PlanID,
			DeviceID:   entry.DeviceID,
			DeviceName: entry.DeviceName,
			Commands:   string(commands),
			Status:     string(entry.Status),
		})
	}

	return record, entries, nil
}

func recordsToPlan(record *stores.PlanRecord, entryRecords []*stores.PlanEntryRecord) (*ConfigPlan, error) {
	plan := &ConfigPlan{
		ID:               record.ID,
		Name:             record.Name,
		Type:             PlanType(record.PlanType),
		ChangeControlID:  record.ChangeControlID,
		ChangeControlURL: record.ChangeControlURL,
		Status:           PlanState(record.Status),
		CreatedBy:        record.CreatedBy,
		CreatedAt:        record.CreatedAt,
	}

	if record.Filter != "" {
		if err := json.Unmarshal([]byte(record.Filter), &plan.Filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan filter: %w", err)
		}
	}
	if record.Features != "" {
		if err := json.Unmarshal([]byte(record.Features), &plan.Features); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan features: %w", err)
		}
	}

	for _, entryRecord := range entryRecords {
		entry := ConfigPlanEntry{
			ID:         entryRecord.ID,
			PlanID:     entryRecord.PlanID,
			DeviceID:   entryRecord.DeviceID,
			DeviceName: entryRecord.DeviceName,
			Status:     JobStatus(entryRecord.Status),
		}
		if entryRecord.Commands != "" {
			if err := json.Unmarshal([]byte(entryRecord.Commands), &entry.Commands); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entry commands: %w", err)
			}
		}
		plan.Entries = append(plan.Entries, entry)
	}

	return plan, nil
}

// StoreJobRecorder implements JobRecorder over the persistent store.
type StoreJobRecorder struct {
	store stores.Store
}

// NewStoreJobRecorder creates a job recorder backed by the store.
func NewStoreJobRecorder(store stores.Store) *StoreJobRecorder {
	return &StoreJobRecorder{
		store: store,
	}
}

// RecordJob upserts the current state of a deployment job.
func (r *StoreJobRecorder) RecordJob(ctx context.Context, job *DeploymentJob) error {
	if job == nil {
		return NewValidationError("job is nil", nil)
	}

	record := &stores.JobRecord{
		ID:         job.ID,
		PlanID:     job.PlanID,
		EntryID:    job.EntryID,
		DeviceID:   job.DeviceID,
		Status:     string(job.Status),
		Attempts:   job.Attempts,
		FinishedAt: job.FinishedAt,
		DurationMS: job.Duration.Milliseconds(),
	}
	if !job.StartedAt.IsZero() {
		startedAt := job.StartedAt
		record.StartedAt = &startedAt
	}
	if job.Output != "" {
		output := job.Output
		record.Output = &output
	}
	if job.Error != "" {
		errMsg := job.Error
		record.Error = &errMsg
	}

	if err := r.store.UpsertJob(ctx, record); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	if err := r.store.UpdateEntryStatus(ctx, job.EntryID, string(job.Status)); err != nil {
		return fmt.Errorf("failed to update entry status: %w", err)
	}
	return nil
}

// RecordSummary marks the plan's final status and outcome after a deployment
// finishes.
func (r *StoreJobRecorder) RecordSummary(ctx context.Context, summary *DeploymentSummary) error {
	if summary == nil {
		return NewValidationError("summary is nil", nil)
	}

	status := PlanStateCompleted
	if summary.Outcome == OutcomeCancelled {
		status = PlanStateCancelled
	}
	outcome := string(summary.Outcome)

	if err := r.store.UpdatePlanStatus(ctx, summary.PlanID, string(status), &outcome); err != nil {
		return fmt.Errorf("failed to record plan outcome: %w", err)
	}
	return nil
}

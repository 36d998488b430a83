package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openconform/openconform/pkg/stores"
)

// StoreConfigSource implements ConfigSource over the persistent store.
// Absent snapshots are reported as nil without an error so callers can
// distinguish "never captured" from a storage failure.
type StoreConfigSource struct {
	store stores.Store
}

// NewStoreConfigSource creates a config source backed by the store.
func NewStoreConfigSource(store stores.Store) *StoreConfigSource {
	return &StoreConfigSource{
		store: store,
	}
}

// GetIntended retrieves the intended configuration snapshot, or nil when
// none is stored.
func (s *StoreConfigSource) GetIntended(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error) {
	return s.getSnapshot(ctx, deviceID, feature, stores.ConfigKindIntended)
}

// GetActual retrieves the latest captured actual configuration snapshot, or
// nil when none is stored.
func (s *StoreConfigSource) GetActual(ctx context.Context, deviceID, feature string) (*ConfigSnapshot, error) {
	return s.getSnapshot(ctx, deviceID, feature, stores.ConfigKindActual)
}

func (s *StoreConfigSource) getSnapshot(ctx context.Context, deviceID, feature string, kind stores.ConfigKind) (*ConfigSnapshot, error) {
	record, err := s.store.GetConfig(ctx, deviceID, feature, kind)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load %s config: %w", kind, err)
	}

	return &ConfigSnapshot{
		DeviceID:   record.DeviceID,
		Feature:    record.Feature,
		Text:       record.Content,
		CapturedAt: record.CapturedAt,
	}, nil
}

// SaveIntended stores an intended configuration snapshot.
func (s *StoreConfigSource) SaveIntended(ctx context.Context, snapshot *ConfigSnapshot) error {
	return s.saveSnapshot(ctx, snapshot, stores.ConfigKindIntended)
}

// SaveActual stores a captured actual configuration snapshot.
func (s *StoreConfigSource) SaveActual(ctx context.Context, snapshot *ConfigSnapshot) error {
	return s.saveSnapshot(ctx, snapshot, stores.ConfigKindActual)
}

func (s *StoreConfigSource) saveSnapshot(ctx context.Context, snapshot *ConfigSnapshot, kind stores.ConfigKind) error {
	if snapshot == nil {
		return NewValidationError("snapshot is nil", nil)
	}
	if snapshot.DeviceID == "" || snapshot.Feature == "" {
		return NewValidationError("snapshot requires a device ID and feature", nil)
	}

	content := snapshot.Text
	if content == "" && len(snapshot.Document) > 0 {
		content = string(snapshot.Document)
	}

	capturedAt := snapshot.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	record := &stores.ConfigRecord{
		ID:         uuid.New().String(),
		DeviceID:   snapshot.DeviceID,
		Feature:    snapshot.Feature,
		Kind:       kind,
		Content:    content,
		Hash:       hashText(content),
		CapturedAt: capturedAt,
	}

	if err := s.store.SaveConfig(ctx, record); err != nil {
		return fmt.Errorf("failed to store %s config: %w", kind, err)
	}
	return nil
}

// StoreResultSource implements ResultSource over the persistent store and
// persists new results. The store assigns compliance revisions: a result
// whose input hashes match the previous record keeps its revision, anything
// else gets the next one.
type StoreResultSource struct {
	store stores.Store
}

// NewStoreResultSource creates a result source backed by the store.
func NewStoreResultSource(store stores.Store) *StoreResultSource {
	return &StoreResultSource{
		store: store,
	}
}

// LatestCompliance returns the most recent compliance result for the pair,
// or nil when none has been recorded.
func (s *StoreResultSource) LatestCompliance(ctx context.Context, deviceID, feature string) (*ComplianceResult, error) {
	record, err := s.store.GetLatestCompliance(ctx, deviceID, feature)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load compliance result: %w", err)
	}

	var result ComplianceResult
	if err := json.Unmarshal([]byte(record.Result), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal compliance result: %w", err)
	}
	result.Revision = record.Revision

	return &result, nil
}

// LatestRemediation returns the most recent remediation result for the
// pair, or nil when none has been recorded.
func (s *StoreResultSource) LatestRemediation(ctx context.Context, deviceID, feature string) (*RemediationResult, error) {
	record, err := s.store.GetLatestRemediation(ctx, deviceID, feature)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load remediation result: %w", err)
	}

	result := &RemediationResult{
		DeviceID:       record.DeviceID,
		Feature:        record.Feature,
		Platform:       record.Platform,
		SourceRevision: record.SourceRevision,
		GeneratedAt:    record.GeneratedAt,
	}
	if record.Commands != "" {
		if err := json.Unmarshal([]byte(record.Commands), &result.Commands); err != nil {
			return nil, fmt.Errorf("failed to unmarshal remediation commands: %w", err)
		}
	}

	return result, nil
}

// ListFeatures returns the feature names with stored compliance results for
// the device, sorted by name.
func (s *StoreResultSource) ListFeatures(ctx context.Context, deviceID string) ([]string, error) {
	features, err := s.store.ListComplianceFeatures(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance features: %w", err)
	}
	return features, nil
}

// SaveCompliance persists a compliance result and fills in the revision the
// store assigned.
func (s *StoreResultSource) SaveCompliance(ctx context.Context, result *ComplianceResult) error {
	if result == nil {
		return NewValidationError("compliance result is nil", nil)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal compliance result: %w", err)
	}

	record := &stores.ComplianceRecord{
		ID:             uuid.New().String(),
		DeviceID:       result.DeviceID,
		Feature:        result.Feature,
		Strategy:       string(result.Strategy),
		State:          string(result.State()),
		Ordered:        result.Ordered,
		IntendedAbsent: result.IntendedAbsent,
		IntendedHash:   result.IntendedHash,
		ActualHash:     result.ActualHash,
		Result:         string(payload),
		ComputedAt:     result.ComputedAt,
	}

	if err := s.store.SaveCompliance(ctx, record); err != nil {
		return fmt.Errorf("failed to store compliance result: %w", err)
	}

	// The revision in the stored payload lags by one save; the column is
	// authoritative.
	result.Revision = record.Revision

	return nil
}

// SaveRemediation persists a remediation result.
func (s *StoreResultSource) SaveRemediation(ctx context.Context, result *RemediationResult) error {
	if result == nil {
		return NewValidationError("remediation result is nil", nil)
	}

	commands, err := json.Marshal(result.Commands)
	if err != nil {
		return fmt.Errorf("failed to marshal remediation commands: %w", err)
	}

	record := &stores.RemediationRecord{
		ID:             uuid.New().String(),
		DeviceID:       result.DeviceID,
		Feature:        result.Feature,
		Platform:       result.Platform,
		Commands:       string(commands),
		SourceRevision: result.SourceRevision,
		GeneratedAt:    result.GeneratedAt,
	}

	if err := s.store.SaveRemediation(ctx, record); err != nil {
		return fmt.Errorf("failed to store remediation result: %w", err)
	}
	return nil
}

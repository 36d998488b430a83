package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openconform/openconform/pkg/stores"
)

// GoldenTracker records when each golden-record operation last ran and last
// succeeded per device. Backups, intended pushes, and compliance checks all
// feed the same record.
type GoldenTracker struct {
	store stores.Store
}

// NewGoldenTracker creates a golden record tracker backed by the store.
func NewGoldenTracker(store stores.Store) *GoldenTracker {
	return &GoldenTracker{
		store: store,
	}
}

// TouchBackup records a config backup attempt for the device.
func (g *GoldenTracker) TouchBackup(ctx context.Context, deviceID string, success bool) error {
	return g.touch(ctx, deviceID, stores.GoldenOpBackup, success)
}

// TouchIntended records an intended config push attempt for the device.
func (g *GoldenTracker) TouchIntended(ctx context.Context, deviceID string, success bool) error {
	return g.touch(ctx, deviceID, stores.GoldenOpIntended, success)
}

// TouchCompliance records a compliance computation for the device.
func (g *GoldenTracker) TouchCompliance(ctx context.Context, deviceID string, success bool) error {
	return g.touch(ctx, deviceID, stores.GoldenOpCompliance, success)
}

func (g *GoldenTracker) touch(ctx context.Context, deviceID string, op stores.GoldenOperation, success bool) error {
	if deviceID == "" {
		return NewValidationError("device ID is required", nil)
	}
	if err := g.store.TouchGolden(ctx, deviceID, op, success, time.Now()); err != nil {
		return fmt.Errorf("failed to update golden record: %w", err)
	}
	return nil
}

// Get returns the golden record for a device. A device that has never been
// touched gets an empty record rather than an error.
func (g *GoldenTracker) Get(ctx context.Context, deviceID string) (*GoldenRecord, error) {
	record, err := g.store.GetGolden(ctx, deviceID)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return &GoldenRecord{DeviceID: deviceID}, nil
		}
		return nil, fmt.Errorf("failed to load golden record: %w", err)
	}

	return &GoldenRecord{
		DeviceID:              record.DeviceID,
		BackupLastAttempt:     record.BackupLastAttempt,
		BackupLastSuccess:     record.BackupLastSuccess,
		IntendedLastAttempt:   record.IntendedLastAttempt,
		IntendedLastSuccess:   record.IntendedLastSuccess,
		ComplianceLastAttempt: record.ComplianceLastAttempt,
		ComplianceLastSuccess: record.ComplianceLastSuccess,
	}, nil
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/openconform/openconform/pkg/stores"
)

// DeviceRegistry implements Inventory over the persistent store.
type DeviceRegistry struct {
	store stores.Store
}

// NewDeviceRegistry creates a new device registry.
func NewDeviceRegistry(store stores.Store) *DeviceRegistry {
	return &DeviceRegistry{
		store: store,
	}
}

// AddDevice adds a device to the inventory, assigning an ID and defaults.
func (r *DeviceRegistry) AddDevice(ctx context.Context, device *Device) error {
	if device.Name == "" {
		return NewValidationError("device name is required", nil)
	}
	if device.Address == "" {
		return NewValidationError("device address is required", nil).WithDevice(device.Name)
	}
	if device.Platform == "" {
		return NewValidationError("device platform is required", nil).WithDevice(device.Name)
	}

	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = DeviceStatusActive
	}
	if err := device.Status.Validate(); err != nil {
		return NewValidationError(err.Error(), nil).WithDevice(device.Name)
	}
	if device.Port == 0 {
		device.Port = 22
	}

	now := time.Now()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	record, err := deviceToRecord(device)
	if err != nil {
		return err
	}
	if err := r.store.UpsertDevice(ctx, record); err != nil {
		return fmt.Errorf("failed to store device: %w", err)
	}

	return nil
}

// GetDevice retrieves a device by ID.
func (r *DeviceRegistry) GetDevice(ctx context.Context, id string) (*Device, error) {
	record, err := r.store.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewPermanentError(fmt.Sprintf("device not found: %s", id), err).WithCode(ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return recordToDevice(record)
}

// GetDeviceByName retrieves a device by hostname.
func (r *DeviceRegistry) GetDeviceByName(ctx context.Context, name string) (*Device, error) {
	record, err := r.store.GetDeviceByName(ctx, name)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewPermanentError(fmt.Sprintf("device not found: %s", name), err).WithCode(ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return recordToDevice(record)
}

// ListDevices returns all devices matching the filter, ordered by name.
// A filter matching nothing returns an empty slice.
func (r *DeviceRegistry) ListDevices(ctx context.Context, filter *DeviceFilter) ([]*Device, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	records, err := r.store.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	devices := make([]*Device, 0, len(records))
	for _, record := range records {
		device, err := recordToDevice(record)
		if err != nil {
			continue // Skip invalid entries
		}
		if filter.Matches(device) {
			devices = append(devices, device)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})

	return devices, nil
}

// RemoveDevice removes a device from the inventory.
func (r *DeviceRegistry) RemoveDevice(ctx context.Context, id string) error {
	if err := r.store.DeleteDevice(ctx, id); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// ImportDevices adds a batch of devices, returning the count stored.
func (r *DeviceRegistry) ImportDevices(ctx context.Context, devices []*Device) (int, error) {
	count := 0
	for _, device := range devices {
		if err := r.AddDevice(ctx, device); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// deviceToRecord converts a device to its storage form.
func deviceToRecord(device *Device) (*stores.DeviceRecord, error) {
	tags, err := json.Marshal(device.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device tags: %w", err)
	}

	return &stores.DeviceRecord{
		ID:         device.ID,
		Name:       device.Name,
		Platform:   device.Platform,
		DeviceType: device.DeviceType,
		Location:   device.Location,
		Role:       device.Role,
		Status:     string(device.Status),
		Tags:       string(tags),
		Address:    device.Address,
		Port:       device.Port,
		CreatedAt:  device.CreatedAt,
		UpdatedAt:  device.UpdatedAt,
	}, nil
}

// recordToDevice converts a storage record back to a device.
func recordToDevice(record *stores.DeviceRecord) (*Device, error) {
	device := &Device{
		ID:         record.ID,
		Name:       record.Name,
		Platform:   record.Platform,
		DeviceType: record.DeviceType,
		Location:   record.Location,
		Role:       record.Role,
		Status:     DeviceStatus(record.Status),
		Address:    record.Address,
		Port:       record.Port,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}

	if record.Tags != "" {
		if err := json.Unmarshal([]byte(record.Tags), &device.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device tags: %w", err)
		}
	}

	return device, nil
}

// inventoryFile is the on-disk inventory format.
type inventoryFile struct {
	Devices []*Device `yaml:"devices"`
}

// LoadDevicesFile reads a device inventory from a YAML file.
func LoadDevicesFile(path string) ([]*Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid inventory file %s", path), err)
	}

	for _, device := range file.Devices {
		if device.Name == "" {
			return nil, NewValidationError(fmt.Sprintf("inventory file %s: device without a name", path), nil)
		}
	}

	return file.Devices, nil
}

// IsEmpty reports whether no filter dimension is populated.
func (f *DeviceFilter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.Names) == 0 && len(f.IDs) == 0 && len(f.Locations) == 0 &&
		len(f.Roles) == 0 && len(f.Platforms) == 0 && len(f.DeviceTypes) == 0 &&
		len(f.Tags) == 0 && len(f.Statuses) == 0
}

// Validate checks the filter's enumerated dimensions. Matching zero devices
// is not a validation failure; only malformed filter values are.
func (f *DeviceFilter) Validate() error {
	if f == nil {
		return nil
	}
	for _, status := range f.Statuses {
		if err := status.Validate(); err != nil {
			return NewFilterError(err.Error(), nil)
		}
	}
	return nil
}

// Matches reports whether the device satisfies every populated dimension.
// Values within one dimension are alternatives; dimensions combine
// conjunctively.
func (f *DeviceFilter) Matches(device *Device) bool {
	if f == nil {
		return true
	}
	if !matchDimension(f.Names, device.Name) {
		return false
	}
	if !matchDimension(f.IDs, device.ID) {
		return false
	}
	if !matchDimension(f.Locations, device.Location) {
		return false
	}
	if !matchDimension(f.Roles, device.Role) {
		return false
	}
	if !matchDimension(f.Platforms, device.Platform) {
		return false
	}
	if !matchDimension(f.DeviceTypes, device.DeviceType) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, status := range f.Statuses {
			if device.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, tag := range device.Tags {
				if tag == want {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchDimension reports whether value matches one of the filter values.
// An unpopulated dimension matches everything.
func matchDimension(values []string, value string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

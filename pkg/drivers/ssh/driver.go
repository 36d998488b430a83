// Package ssh implements the SSH device driver for network devices.
// A Driver serves one platform family and opens one Session per device;
// platform profiles decide how the running configuration is retrieved
// and which setup commands run after connect.
package ssh

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openconform/openconform/pkg/engine"
)

// Driver opens SSH sessions to network devices. One Driver serves one
// platform family; a Resolver picks the driver for a device. Driver is
// safe for concurrent use, every Connect produces an independent session.
type Driver struct {
	config  *Config
	profile *PlatformProfile
}

// NewDriver creates a driver from a validated configuration.
func NewDriver(config *Config) (*Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid driver config: %w", err)
	}

	profile := config.Profile
	if profile == nil {
		builtin, ok := ProfileFor(config.Platform)
		if !ok {
			return nil, fmt.Errorf("no builtin profile for platform %q", config.Platform)
		}
		profile = builtin
	}

	if profile.FetchCommand == "" && profile.ConfigPath == "" {
		return nil, fmt.Errorf("profile for %q defines neither a fetch command nor a config path", config.Platform)
	}

	return &Driver{
		config:  config,
		profile: profile,
	}, nil
}

// Platform returns the platform family this driver serves.
func (d *Driver) Platform() string {
	return d.config.Platform
}

// Connect establishes an SSH session to the device and runs the
// profile's setup commands. The returned error classifies the failure:
// refused credentials are auth failures, dial timeouts and resets are
// transient.
func (d *Driver) Connect(ctx context.Context, device *engine.Device) (engine.DeviceSession, error) {
	clientConfig, err := d.config.BuildClientConfig()
	if err != nil {
		return nil, &DriverError{
			Op:          "connect",
			Err:         err,
			IsTemporary: false,
		}
	}

	address := deviceAddress(device)

	log.Debug().
		Str("device", device.Name).
		Str("address", address).
		Str("platform", d.config.Platform).
		Msg("connecting to device")

	client, err := d.dial(ctx, address, clientConfig)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		client:         client,
		device:         device,
		profile:        d.profile,
		commandTimeout: d.config.CommandTimeout,
	}

	if err := sess.runSetup(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	log.Debug().
		Str("device", device.Name).
		Str("address", address).
		Msg("device session established")

	return sess, nil
}

// dial establishes the SSH connection with context awareness. The ssh
// package only honors the config timeout, so the dial runs in a
// goroutine and the connection is discarded if the context wins.
func (d *Driver) dial(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	type dialResult struct {
		client *ssh.Client
		err    error
	}

	results := make(chan dialResult, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		results <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		// Reap the abandoned connection when the dial eventually returns.
		go func() {
			if result := <-results; result.client != nil {
				result.client.Close()
			}
		}()
		return nil, &DriverError{
			Op:          "connect",
			Err:         fmt.Errorf("connection to %s aborted: %w", address, ctx.Err()),
			IsTemporary: true,
		}

	case result := <-results:
		if result.err != nil {
			return nil, classifyDialError(fmt.Errorf("failed to connect to %s: %w", address, result.err))
		}
		return result.client, nil
	}
}

// deviceAddress renders the dial address from the inventory record.
func deviceAddress(device *engine.Device) string {
	port := device.Port
	if port == 0 {
		port = 22
	}
	return device.Address + ":" + strconv.Itoa(port)
}

// Resolver maps device platforms to drivers. The zero value is not
// usable; create one with NewResolver.
type Resolver struct {
	mu      sync.RWMutex
	drivers map[string]engine.DeviceDriver
}

// NewResolver creates an empty driver resolver.
func NewResolver() *Resolver {
	return &Resolver{
		drivers: make(map[string]engine.DeviceDriver),
	}
}

// Register adds a driver for a platform, replacing any previous entry.
func (r *Resolver) Register(platform string, driver engine.DeviceDriver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[platform] = driver
}

// Resolve returns the driver for the device's platform. An unregistered
// platform is a permanent error; retrying cannot make a driver appear.
func (r *Resolver) Resolve(device *engine.Device) (engine.DeviceDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	driver, ok := r.drivers[device.Platform]
	if !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("no driver registered for platform %q", device.Platform), nil,
		).WithCode(engine.ErrCodeNotFound)
	}
	return driver, nil
}

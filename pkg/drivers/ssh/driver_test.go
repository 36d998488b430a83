package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/openconform/openconform/pkg/engine"
)

const testRunningConfig = `hostname sw-test-01
!
vlan 10
 name users
!
interface Ethernet1
 switchport access vlan 10
 no shutdown
!
end`

// testDevice is a minimal in-process SSH server that behaves like a
// network device: it records executed commands, rejects out-of-range
// vlan IDs, prints a canned running config, and serves SFTP for file
// backed platforms.
type testDevice struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}

	mu       sync.Mutex
	commands []string
}

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()

	signer, err := generateHostKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "netadmin" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	device := &testDevice{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
	}

	go device.serve()
	t.Cleanup(device.close)

	return device
}

func (d *testDevice) serve() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				continue
			}
		}
		go d.handleConnection(conn)
	}
}

func (d *testDevice) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, d.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}

		go d.handleChannel(channel, requests)
	}
}

func (d *testDevice) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:]) // Skip the length prefix
			if req.WantReply {
				req.Reply(true, nil)
			}

			d.record(command)
			d.runCommand(channel, command)
			return

		case "subsystem":
			if string(req.Payload[4:]) == "sftp" {
				if req.WantReply {
					req.Reply(true, nil)
				}
				if server, err := sftp.NewServer(channel); err == nil {
					server.Serve()
				}
				return
			}
			if req.WantReply {
				req.Reply(false, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// runCommand emulates the device CLI for a handful of test commands.
func (d *testDevice) runCommand(channel ssh.Channel, command string) {
	switch {
	case command == "show running-config":
		channel.Write([]byte(testRunningConfig + "\n"))
		channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})

	case command == "vlan 5000":
		channel.Stderr().Write([]byte("% Invalid input detected at '^' marker.\n"))
		channel.SendRequest("exit-status", false, []byte{0, 0, 0, 1})

	case command == "hang":
		<-d.done

	default:
		channel.Write([]byte("command: " + command + "\n"))
		channel.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
	}
}

func (d *testDevice) record(command string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, command)
}

func (d *testDevice) executedCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

func (d *testDevice) close() {
	close(d.done)
	d.listener.Close()
}

// generateHostKey generates an ED25519 host key for the test server.
func generateHostKey() (ssh.Signer, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(privKey)
}

// parseAddress splits a listen address into host and port.
func parseAddress(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("failed to split address %q: %v", addr, err)
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// testConfig builds a password-auth driver config pointed at the test
// device.
func testConfig(platform string) *Config {
	cfg := DefaultConfig(platform, "netadmin")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectTimeout = 5 * time.Second
	cfg.CommandTimeout = 5 * time.Second
	return cfg
}

// testInventoryDevice builds an inventory record for the test device.
func testInventoryDevice(t *testing.T, device *testDevice, platform string) *engine.Device {
	t.Helper()
	host, port := parseAddress(t, device.addr)
	return &engine.Device{
		ID:       "dev-test-01",
		Name:     "sw-test-01",
		Platform: platform,
		Address:  host,
		Port:     port,
		Status:   engine.DeviceStatusActive,
	}
}

func TestNewDriver(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		driver, err := NewDriver(testConfig("cisco_ios"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if driver.Platform() != "cisco_ios" {
			t.Errorf("expected platform 'cisco_ios', got '%s'", driver.Platform())
		}
	})

	t.Run("unknown platform without profile", func(t *testing.T) {
		_, err := NewDriver(testConfig("acme_os"))
		if err == nil {
			t.Fatal("expected error for unknown platform, got nil")
		}
	})

	t.Run("unknown platform with explicit profile", func(t *testing.T) {
		cfg := testConfig("acme_os")
		cfg.Profile = &PlatformProfile{
			Platform:     "acme_os",
			FetchCommand: "display current-configuration",
		}
		if _, err := NewDriver(cfg); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := testConfig("cisco_ios")
		cfg.Password = ""
		if _, err := NewDriver(cfg); err == nil {
			t.Fatal("expected error for missing password, got nil")
		}
	})

	t.Run("profile without fetch path rejected", func(t *testing.T) {
		cfg := testConfig("cisco_ios")
		cfg.Profile = &PlatformProfile{Platform: "cisco_ios"}
		if _, err := NewDriver(cfg); err == nil {
			t.Fatal("expected error for empty profile, got nil")
		}
	})
}

func TestDriverConnect(t *testing.T) {
	device := newTestDevice(t)

	driver, err := NewDriver(testConfig("cisco_ios"))
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	session, err := driver.Connect(context.Background(), testInventoryDevice(t, device, "cisco_ios"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer session.Close()

	// The cisco_ios profile disables paging right after connect.
	executed := device.executedCommands()
	want := []string{"terminal length 0", "terminal width 512"}
	if len(executed) != len(want) {
		t.Fatalf("expected %d setup commands, got %d: %v", len(want), len(executed), executed)
	}
	for i, cmd := range want {
		if executed[i] != cmd {
			t.Errorf("setup command %d: expected %q, got %q", i, cmd, executed[i])
		}
	}
}

func TestDriverConnectAuthFailure(t *testing.T) {
	device := newTestDevice(t)

	cfg := testConfig("cisco_ios")
	cfg.Password = "wrong"

	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	_, err = driver.Connect(context.Background(), testInventoryDevice(t, device, "cisco_ios"))
	if err == nil {
		t.Fatal("expected auth failure, got nil")
	}

	var driverErr *DriverError
	if !errors.As(err, &driverErr) {
		t.Fatalf("expected *DriverError, got %T: %v", err, err)
	}
	if !driverErr.AuthFailed() {
		t.Errorf("expected AuthFailed() true, got false: %v", err)
	}
	if driverErr.Temporary() {
		t.Errorf("expected Temporary() false for auth failure: %v", err)
	}
}

func TestDriverConnectTimeout(t *testing.T) {
	// A listener that accepts but never speaks SSH: the handshake can
	// only end via timeout.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	host, port := parseAddress(t, listener.Addr().String())

	cfg := testConfig("cisco_ios")
	cfg.ConnectTimeout = 500 * time.Millisecond

	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = driver.Connect(ctx, &engine.Device{
		ID:       "dev-slow",
		Name:     "sw-slow",
		Platform: "cisco_ios",
		Address:  host,
		Port:     port,
	})
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}

	var driverErr *DriverError
	if !errors.As(err, &driverErr) {
		t.Fatalf("expected *DriverError, got %T: %v", err, err)
	}
	if !driverErr.Temporary() {
		t.Errorf("expected Temporary() true for dial timeout: %v", err)
	}
	if driverErr.AuthFailed() {
		t.Errorf("expected AuthFailed() false for dial timeout: %v", err)
	}
}

func TestDriverConnectContextCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	host, port := parseAddress(t, listener.Addr().String())

	cfg := testConfig("cisco_ios")
	cfg.ConnectTimeout = 10 * time.Second

	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = driver.Connect(ctx, &engine.Device{
		ID:       "dev-slow",
		Name:     "sw-slow",
		Platform: "cisco_ios",
		Address:  host,
		Port:     port,
	})
	if err == nil {
		t.Fatal("expected cancellation error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect did not honor context, took %v", elapsed)
	}

	var driverErr *DriverError
	if !errors.As(err, &driverErr) {
		t.Fatalf("expected *DriverError, got %T: %v", err, err)
	}
	if !driverErr.Temporary() {
		t.Errorf("expected Temporary() true for cancelled connect: %v", err)
	}
}

func TestDriverConnectKeyAuth(t *testing.T) {
	device := newTestDevice(t)

	keyPath := filepath.Join(t.TempDir(), "test_key")
	keyBytes, err := marshalTestKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	cfg := DefaultConfig("cisco_ios", "netadmin")
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false

	driver, err := NewDriver(cfg)
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	session, err := driver.Connect(context.Background(), testInventoryDevice(t, device, "cisco_ios"))
	if err != nil {
		t.Fatalf("failed to connect with key auth: %v", err)
	}
	session.Close()
}

func TestResolver(t *testing.T) {
	resolver := NewResolver()

	driver, err := NewDriver(testConfig("cisco_ios"))
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}
	resolver.Register("cisco_ios", driver)

	t.Run("registered platform", func(t *testing.T) {
		got, err := resolver.Resolve(&engine.Device{ID: "d1", Platform: "cisco_ios"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != driver {
			t.Error("expected the registered driver instance")
		}
	})

	t.Run("unknown platform", func(t *testing.T) {
		_, err := resolver.Resolve(&engine.Device{ID: "d2", Platform: "acme_os"})
		if err == nil {
			t.Fatal("expected error for unknown platform, got nil")
		}
		if !strings.Contains(err.Error(), "acme_os") {
			t.Errorf("expected error to name the platform, got: %v", err)
		}
		if engine.IsRetryable(err) {
			t.Error("unknown platform must not be retryable")
		}
	})
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		temporary bool
		auth      bool
	}{
		{
			name:      "authentication rejected",
			err:       errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"),
			temporary: false,
			auth:      true,
		},
		{
			name:      "host key mismatch",
			err:       errors.New("ssh: handshake failed: knownhosts: key mismatch"),
			temporary: false,
			auth:      false,
		},
		{
			name:      "io timeout",
			err:       fmt.Errorf("failed to connect: %w", os.ErrDeadlineExceeded),
			temporary: true,
			auth:      false,
		},
		{
			name:      "context deadline",
			err:       fmt.Errorf("failed to connect: %w", context.DeadlineExceeded),
			temporary: true,
			auth:      false,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 192.0.2.10:22: connect: connection refused"),
			temporary: true,
			auth:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyDialError(tt.err)

			if classified.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", classified.Temporary(), tt.temporary)
			}
			if classified.AuthFailed() != tt.auth {
				t.Errorf("AuthFailed() = %v, want %v", classified.AuthFailed(), tt.auth)
			}
			if !errors.Is(classified, tt.err) {
				t.Error("classified error must unwrap to the original")
			}
		})
	}
}

// marshalTestKey generates an ED25519 private key in OpenSSH PEM format.
func marshalTestKey() ([]byte, error) {
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(pemBlock), nil
}

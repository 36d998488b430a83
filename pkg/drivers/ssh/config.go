package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the authentication method for SSH connections.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication.
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses SSH agent authentication.
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the SSH driver configuration. One Config serves a whole
// platform family; the per-device address and port come from the
// inventory record at connect time.
type Config struct {
	// Platform is the network OS family this driver serves. It selects
	// the builtin platform profile unless Profile overrides it.
	Platform string `yaml:"platform" validate:"required"`

	// User is the SSH username.
	User string `yaml:"user" validate:"required"`

	// AuthMethod specifies the authentication method.
	AuthMethod AuthMethod `yaml:"auth_method" validate:"required,oneof=password key agent"`

	// Password for password authentication.
	Password string `yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`

	// PrivateKeyPassphrase is the passphrase for the private key.
	PrivateKeyPassphrase string `yaml:"private_key_passphrase,omitempty"`

	// KnownHostsPath is the path to the known_hosts file.
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`

	// StrictHostKeyChecking enables host key verification.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CommandTimeout bounds a single command execution on the device.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// Profile overrides the builtin platform profile.
	Profile *PlatformProfile `yaml:"-"`
}

// DefaultConfig creates a Config with sensible defaults for a platform.
func DefaultConfig(platform, user string) *Config {
	return &Config{
		Platform:              platform,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		StrictHostKeyChecking: true,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectTimeout:        30 * time.Second,
		CommandTimeout:        60 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Platform == "" {
		return fmt.Errorf("platform is required")
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			// Try default key locations
			home := os.Getenv("HOME")
			candidates := []string{
				filepath.Join(home, ".ssh", "id_ed25519"),
				filepath.Join(home, ".ssh", "id_rsa"),
				filepath.Join(home, ".ssh", "id_ecdsa"),
			}
			for _, candidate := range candidates {
				if _, err := os.Stat(candidate); err == nil {
					c.PrivateKeyPath = candidate
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		// Agent authentication is resolved at connect time
	default:
		return fmt.Errorf("invalid auth method: %s", c.AuthMethod)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}

	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}

	return nil
}

// BuildClientConfig creates an ssh.ClientConfig from the driver config.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    c.User,
		Timeout: c.ConnectTimeout,
	}

	// Configure authentication
	switch c.AuthMethod {
	case AuthMethodPassword:
		config.Auth = []ssh.AuthMethod{
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		}

	case AuthMethodKey:
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}

	case AuthMethodAgent:
		return nil, fmt.Errorf("agent authentication not yet implemented")

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	// Configure host key verification
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		hostKeyCallback, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = hostKeyCallback
	} else {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return config, nil
}

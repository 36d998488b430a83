package ssh

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("cisco_ios", "netadmin")

	if config.Platform != "cisco_ios" {
		t.Errorf("expected platform 'cisco_ios', got '%s'", config.Platform)
	}

	if config.User != "netadmin" {
		t.Errorf("expected user 'netadmin', got '%s'", config.User)
	}

	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected auth method 'key', got '%s'", config.AuthMethod)
	}

	if !config.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}

	if config.ConnectTimeout != 30*time.Second {
		t.Errorf("expected connect timeout 30s, got %v", config.ConnectTimeout)
	}

	if config.CommandTimeout != 60*time.Second {
		t.Errorf("expected command timeout 60s, got %v", config.CommandTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
	}{
		{
			name: "valid password config",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
			expectError: false,
		},
		{
			name: "missing platform",
			modifyFunc: func(c *Config) {
				c.Platform = ""
			},
			expectError: true,
		},
		{
			name: "missing user",
			modifyFunc: func(c *Config) {
				c.User = ""
			},
			expectError: true,
		},
		{
			name: "password auth without password",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			expectError: true,
		},
		{
			name: "key auth with missing key file",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			expectError: true,
		},
		{
			name: "invalid auth method",
			modifyFunc: func(c *Config) {
				c.AuthMethod = "telepathy"
			},
			expectError: true,
		},
		{
			name: "invalid connect timeout",
			modifyFunc: func(c *Config) {
				c.ConnectTimeout = 0
			},
			expectError: true,
		},
		{
			name: "invalid command timeout",
			modifyFunc: func(c *Config) {
				c.CommandTimeout = 0
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("cisco_ios", "netadmin")
			config.AuthMethod = AuthMethodPassword
			config.Password = "secret"
			tt.modifyFunc(config)

			err := config.Validate()

			if tt.expectError && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestBuildClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		config := DefaultConfig("cisco_ios", "netadmin")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if clientConfig.User != "netadmin" {
			t.Errorf("expected user 'netadmin', got '%s'", clientConfig.User)
		}

		// Password plus keyboard-interactive fallback for devices that
		// only offer the latter.
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}

		if clientConfig.Timeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", clientConfig.Timeout)
		}
	})

	t.Run("key authentication with valid key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "test_key")

		keyBytes, err := marshalTestKey()
		if err != nil {
			t.Fatalf("failed to generate test key: %v", err)
		}
		if err := os.WriteFile(keyPath, keyBytes, 0o600); err != nil {
			t.Fatalf("failed to write test key: %v", err)
		}

		config := DefaultConfig("cisco_ios", "netadmin")
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = keyPath
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("agent authentication not implemented", func(t *testing.T) {
		config := DefaultConfig("cisco_ios", "netadmin")
		config.AuthMethod = AuthMethodAgent

		if _, err := config.BuildClientConfig(); err == nil {
			t.Error("expected error for agent auth, got nil")
		}
	})
}

func TestProfileFor(t *testing.T) {
	profile, ok := ProfileFor("cisco_ios")
	if !ok {
		t.Fatal("expected builtin profile for cisco_ios")
	}
	if profile.FetchCommand != "show running-config" {
		t.Errorf("unexpected fetch command: %s", profile.FetchCommand)
	}

	if _, ok := ProfileFor("acme_os"); ok {
		t.Error("expected no builtin profile for acme_os")
	}
}

func TestPlatforms(t *testing.T) {
	platforms := Platforms()
	if len(platforms) == 0 {
		t.Fatal("expected builtin platforms")
	}

	for i := 1; i < len(platforms); i++ {
		if platforms[i-1] >= platforms[i] {
			t.Errorf("platforms not sorted: %v", platforms)
		}
	}

	found := false
	for _, p := range platforms {
		if p == "juniper_junos" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected juniper_junos in %v", platforms)
	}
}

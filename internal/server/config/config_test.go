package config

import (
	"encoding/base64"
	"testing"
	"time"
)

func validConfig() *Config {
	c := &Config{}
	c.LoadDefaults()
	c.MasterKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	c.TokenSecret = "signing-secret"
	return c
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidate_MasterKeyErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "***"},
		{"wrong length", base64.StdEncoding.EncodeToString(make([]byte, 16))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			c.MasterKey = tc.key
			if err := c.Validate(); err == nil {
				t.Fatalf("expected error for %s master key", tc.name)
			}
		})
	}
}

func TestValidate_TokenSecretRules(t *testing.T) {
	c := validConfig()
	c.TokenSecret = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty token secret")
	}

	c = validConfig()
	c.TokenSecret = c.MasterKey
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for token secret equal to master key")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv(envHTTPAddr, ":9999")
	t.Setenv(envAccessGrantTTL, "48h")
	t.Setenv(envMaxAttempts, "7")

	c := &Config{}
	c.LoadDefaults()
	parseEnv(c)

	if c.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr not overlaid: %q", c.HTTPAddr)
	}
	if c.AccessGrantTTL != 48*time.Hour {
		t.Fatalf("AccessGrantTTL not overlaid: %v", c.AccessGrantTTL)
	}
	if c.WorkerMaxAttempts != 7 {
		t.Fatalf("WorkerMaxAttempts not overlaid: %d", c.WorkerMaxAttempts)
	}
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	c.LoadDefaults()

	if c.AccessGrantTTL != 24*time.Hour {
		t.Fatalf("expected 24h access grant TTL, got %v", c.AccessGrantTTL)
	}
	if c.InvitationTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d invitation TTL, got %v", c.InvitationTTL)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rfpflow/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("manager@example.com")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Company.ManagerEmail != "manager@example.com" {
		t.Fatalf("unexpected manager email %q", cfg.Company.ManagerEmail)
	}
	if cfg.Validation.TimeoutHours != 48 {
		t.Fatalf("expected 48h default timeout, got %d", cfg.Validation.TimeoutHours)
	}
	if cfg.Tracking.NudgeDays != 3 || cfg.Tracking.EscalateDays != 5 || cfg.Tracking.AbandonDays != 14 {
		t.Fatalf("unexpected tracking defaults: %+v", cfg.Tracking)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := config.GenerateDefault("manager@example.com")
	cfg, err := config.FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("generated yaml should parse: %v", err)
	}
	if cfg.Capabilities.BriefEmail != "brief@localhost" {
		t.Fatalf("unexpected brief mailbox %q", cfg.Capabilities.BriefEmail)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"missing manager", func(c *config.Config) { c.Company.ManagerEmail = "" }, "manager_email"},
		{"bad manager address", func(c *config.Config) { c.Company.ManagerEmail = "not-an-address" }, "manager_email"},
		{"bad from address", func(c *config.Config) { c.Company.FromEmail = "nope nope" }, "from_email"},
		{"zero timeout", func(c *config.Config) { c.Validation.TimeoutHours = 0 }, "timeout_hours"},
		{"negative nudge", func(c *config.Config) { c.Tracking.NudgeDays = -1 }, "nudge_days"},
		{"nudge after escalate", func(c *config.Config) { c.Tracking.NudgeDays = 10; c.Tracking.EscalateDays = 5 }, "nudge_days"},
		{"escalate after abandon", func(c *config.Config) { c.Tracking.EscalateDays = 20 }, "escalate_days"},
		{"webhook without url", func(c *config.Config) { c.Webhooks = []config.Webhook{{}} }, "webhooks[0].url"},
	}
	for _, tc := range cases {
		cfg := config.Default("manager@example.com")
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error mentioning %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil for missing file, got %+v, %v", cfg, err)
	}
	path := filepath.Join(dir, "rfpflow.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault("manager@example.com")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Company.ManagerEmail != "manager@example.com" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

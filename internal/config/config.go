package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models rfpflow.yml.
type Config struct {
	Company struct {
		Name         string `yaml:"name"`
		ManagerEmail string `yaml:"manager_email"`
		FromEmail    string `yaml:"from_email"`
	} `yaml:"company"`
	Validation struct {
		TimeoutHours           int  `yaml:"timeout_hours"`
		RejectDuplicatePending bool `yaml:"reject_duplicate_pending"`
	} `yaml:"validation"`
	Tracking struct {
		NudgeDays          int `yaml:"nudge_days"`
		EscalateDays       int `yaml:"escalate_days"`
		AbandonDays        int `yaml:"abandon_days"`
		DeadlineWindowDays int `yaml:"deadline_window_days"`
		DecisionCheckDays  int `yaml:"decision_check_days"`
	} `yaml:"tracking"`
	Capabilities struct {
		BriefEmail    string `yaml:"brief_email"`
		ProposalEmail string `yaml:"proposal_email"`
		DraftingEmail string `yaml:"drafting_email"`
	} `yaml:"capabilities"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.ManagerEmail == "" {
		return fmt.Errorf("config.company.manager_email is required")
	}
	if _, err := mail.ParseAddress(c.Company.ManagerEmail); err != nil {
		return fmt.Errorf("config.company.manager_email is not a valid address: %w", err)
	}
	if c.Company.FromEmail != "" {
		if _, err := mail.ParseAddress(c.Company.FromEmail); err != nil {
			return fmt.Errorf("config.company.from_email is not a valid address: %w", err)
		}
	}
	if c.Validation.TimeoutHours <= 0 {
		return fmt.Errorf("config.validation.timeout_hours must be positive")
	}
	t := c.Tracking
	for name, days := range map[string]int{
		"nudge_days":           t.NudgeDays,
		"escalate_days":        t.EscalateDays,
		"abandon_days":         t.AbandonDays,
		"deadline_window_days": t.DeadlineWindowDays,
		"decision_check_days":  t.DecisionCheckDays,
	} {
		if days <= 0 {
			return fmt.Errorf("config.tracking.%s must be positive", name)
		}
	}
	if t.NudgeDays > t.EscalateDays {
		return fmt.Errorf("config.tracking.nudge_days must not exceed escalate_days")
	}
	if t.EscalateDays > t.AbandonDays {
		return fmt.Errorf("config.tracking.escalate_days must not exceed abandon_days")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rfpflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(managerEmail string) string {
	return fmt.Sprintf(defaultTemplate, managerEmail)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(managerEmail string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, managerEmail))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

const defaultTemplate = `company:
  name: ""
  manager_email: %s
  from_email: ""

validation:
  # How long a validation request may stay pending before the periodic
  # sweep marks it timed out.
  timeout_hours: 48
  reject_duplicate_pending: true

tracking:
  # Days without inbound or outbound email before a gentle reminder.
  nudge_days: 3
  # Days of silence before the manager is pulled in.
  escalate_days: 5
  # Days of silence before suggesting the project be abandoned.
  abandon_days: 14
  # Alert when the client deadline is closer than this many days.
  deadline_window_days: 7
  # Days after submission before asking the client for a decision.
  decision_check_days: 30

capabilities:
  brief_email: brief@localhost
  proposal_email: proposal@localhost
  drafting_email: drafting@localhost

webhooks: []
`

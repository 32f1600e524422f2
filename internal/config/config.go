// Package config loads daemon configuration from a JSON file or from
// OPSDESK_-prefixed environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level opsdesk configuration.
type Config struct {
	Daemon    DaemonConfig              `json:"daemon"`
	Providers map[string]ProviderConfig `json:"providers"`
	Mailbox   MailboxConfig             `json:"mailbox"`
	Tracker   TrackerConfig             `json:"tracker"`
	Access    AccessConfig              `json:"access"`
	Search    SearchConfig              `json:"search"`
	Broadcast BroadcastConfig           `json:"broadcast"`
	API       APIConfig                 `json:"api"`
}

// DaemonConfig holds engine-level settings.
type DaemonConfig struct {
	DataDir           string `json:"data_dir"`
	PollInterval      string `json:"poll_interval,omitempty"`      // Go duration, default 15s
	ReconcileInterval string `json:"reconcile_interval,omitempty"` // Go duration, default 60s
	FetchLimit        int    `json:"fetch_limit,omitempty"`
	ReplyDedupWindow  string `json:"reply_dedup_window,omitempty"` // Go duration, default 5m
	AutoStart         bool   `json:"auto_start,omitempty"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// MailboxConfig selects and configures the inbound message channel.
type MailboxConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack channel-polling settings.
type SlackConfig struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

// TrackerConfig holds issue-tracker settings.
type TrackerConfig struct {
	Organization string `json:"organization"`
	Project      string `json:"project"`
	Token        string `json:"token"`
	BaseURL      string `json:"base_url,omitempty"`
}

// AccessConfig holds repository access-control settings.
type AccessConfig struct {
	Owner   string `json:"owner"`
	Token   string `json:"token"`
	BaseURL string `json:"base_url,omitempty"`
}

// SearchConfig holds similarity-search settings. An empty base URL disables
// search entirely.
type SearchConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	ResyncSchedule string `json:"resync_schedule,omitempty"` // cron expression, default @every 5m
}

// BroadcastConfig holds the optional Kafka lifecycle feed settings.
type BroadcastConfig struct {
	KafkaBrokers string `json:"kafka_brokers,omitempty"` // comma-separated
	KafkaTopic   string `json:"kafka_topic,omitempty"`
}

// APIConfig holds control API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from OPSDESK_-prefixed environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Daemon: DaemonConfig{
			DataDir:           getenv("OPSDESK_DATA_DIR", "/data"),
			PollInterval:      os.Getenv("OPSDESK_POLL_INTERVAL"),
			ReconcileInterval: os.Getenv("OPSDESK_RECONCILE_INTERVAL"),
			FetchLimit:        getenvInt("OPSDESK_FETCH_LIMIT", 0),
			AutoStart:         os.Getenv("OPSDESK_AUTO_START") == "true",
		},
		Providers: make(map[string]ProviderConfig),
		Tracker: TrackerConfig{
			Organization: os.Getenv("OPSDESK_TRACKER_ORG"),
			Project:      os.Getenv("OPSDESK_TRACKER_PROJECT"),
			Token:        os.Getenv("OPSDESK_TRACKER_TOKEN"),
			BaseURL:      os.Getenv("OPSDESK_TRACKER_BASE_URL"),
		},
		Access: AccessConfig{
			Owner:   os.Getenv("OPSDESK_ACCESS_OWNER"),
			Token:   os.Getenv("OPSDESK_ACCESS_TOKEN"),
			BaseURL: os.Getenv("OPSDESK_ACCESS_BASE_URL"),
		},
		Search: SearchConfig{
			BaseURL:        os.Getenv("OPSDESK_SEARCH_BASE_URL"),
			ResyncSchedule: os.Getenv("OPSDESK_SEARCH_RESYNC_SCHEDULE"),
		},
		Broadcast: BroadcastConfig{
			KafkaBrokers: os.Getenv("OPSDESK_KAFKA_BROKERS"),
			KafkaTopic:   os.Getenv("OPSDESK_KAFKA_TOPIC"),
		},
		API: APIConfig{
			Host: getenv("OPSDESK_API_HOST", "0.0.0.0"),
			Port: getenvInt("OPSDESK_API_PORT", 8080),
			Key:  os.Getenv("OPSDESK_API_KEY"),
		},
	}

	if apiKey := os.Getenv("OPSDESK_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("OPSDESK_MODEL", "claude-sonnet-4-20250514"),
		}
	} else if apiKey := os.Getenv("OPSDESK_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("OPSDESK_OPENAI_BASE_URL"),
			Model:   getenv("OPSDESK_MODEL", "gpt-4o"),
		}
	}

	if token := os.Getenv("OPSDESK_TELEGRAM_TOKEN"); token != "" {
		cfg.Mailbox.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("OPSDESK_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: OPSDESK_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Mailbox.Telegram.AllowFrom = parsed
		}
	}
	if token := os.Getenv("OPSDESK_SLACK_TOKEN"); token != "" {
		cfg.Mailbox.Slack = &SlackConfig{
			Token:   token,
			Channel: os.Getenv("OPSDESK_SLACK_CHANNEL"),
		}
	}

	return cfg, nil
}

// PollIntervalDuration returns the parsed ingestion cadence, or 0 for the
// default.
func (d DaemonConfig) PollIntervalDuration() time.Duration {
	return parseDuration(d.PollInterval)
}

// ReconcileIntervalDuration returns the parsed reconciliation cadence, or 0
// for the default.
func (d DaemonConfig) ReconcileIntervalDuration() time.Duration {
	return parseDuration(d.ReconcileInterval)
}

// ReplyDedupWindowDuration returns the parsed reply window, or 0 for the
// default.
func (d DaemonConfig) ReplyDedupWindowDuration() time.Duration {
	return parseDuration(d.ReplyDedupWindow)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Daemon.DataDir == "" {
		errs = append(errs, "daemon.data_dir is required")
	}
	if c.Daemon.PollInterval != "" {
		if _, err := time.ParseDuration(c.Daemon.PollInterval); err != nil {
			errs = append(errs, fmt.Sprintf("daemon.poll_interval: %v", err))
		}
	}
	if c.Daemon.ReconcileInterval != "" {
		if _, err := time.ParseDuration(c.Daemon.ReconcileInterval); err != nil {
			errs = append(errs, fmt.Sprintf("daemon.reconcile_interval: %v", err))
		}
	}

	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider is required")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
	}

	if c.Mailbox.Telegram == nil && c.Mailbox.Slack == nil {
		errs = append(errs, "one of mailbox.telegram or mailbox.slack is required")
	}
	if c.Mailbox.Telegram != nil && c.Mailbox.Telegram.Token == "" {
		errs = append(errs, "mailbox.telegram.token is required")
	}
	if c.Mailbox.Slack != nil {
		if c.Mailbox.Slack.Token == "" {
			errs = append(errs, "mailbox.slack.token is required")
		}
		if c.Mailbox.Slack.Channel == "" {
			errs = append(errs, "mailbox.slack.channel is required")
		}
	}

	if c.Tracker.Organization == "" || c.Tracker.Project == "" || c.Tracker.Token == "" {
		errs = append(errs, "tracker.organization, tracker.project and tracker.token are required")
	}
	if c.Access.Owner == "" || c.Access.Token == "" {
		errs = append(errs, "access.owner and access.token are required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}

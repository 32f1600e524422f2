package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "daemon": {
    "data_dir": "/tmp/opsdesk-test",
    "poll_interval": "5s",
    "reconcile_interval": "30s",
    "fetch_limit": 20
  },
  "providers": {
    "default": {
      "api_key": "sk-test-key",
      "model": "gpt-4o"
    }
  },
  "mailbox": {
    "telegram": {
      "token": "123456:ABC",
      "allow_from": [100, 200]
    }
  },
  "tracker": {
    "organization": "acme",
    "project": "it-support",
    "token": "pat-token"
  },
  "access": {
    "owner": "acme",
    "token": "gh-token"
  },
  "search": {
    "base_url": "http://search:9000",
    "resync_schedule": "@every 5m"
  },
  "broadcast": {
    "kafka_brokers": "kafka:9092",
    "kafka_topic": "opsdesk.lifecycle"
  },
  "api": {
    "host": "0.0.0.0",
    "port": 8080,
    "api_key": "control-key"
  }
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(validJSON), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Daemon.DataDir != "/tmp/opsdesk-test" {
		t.Errorf("data dir = %q", cfg.Daemon.DataDir)
	}
	if got := cfg.Daemon.PollIntervalDuration(); got != 5*time.Second {
		t.Errorf("poll interval = %v", got)
	}
	if got := cfg.Daemon.ReconcileIntervalDuration(); got != 30*time.Second {
		t.Errorf("reconcile interval = %v", got)
	}
	if cfg.Providers["default"].Model != "gpt-4o" {
		t.Errorf("model = %q", cfg.Providers["default"].Model)
	}
	if cfg.Mailbox.Telegram == nil || len(cfg.Mailbox.Telegram.AllowFrom) != 2 {
		t.Errorf("telegram = %+v", cfg.Mailbox.Telegram)
	}
	if cfg.Tracker.Organization != "acme" || cfg.Tracker.Project != "it-support" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	if cfg.Search.BaseURL != "http://search:9000" {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Broadcast.KafkaTopic != "opsdesk.lifecycle" {
		t.Errorf("broadcast = %+v", cfg.Broadcast)
	}
	if cfg.API.Key != "control-key" {
		t.Errorf("api key = %q", cfg.API.Key)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{
		"daemon.data_dir",
		"at least one provider",
		"mailbox.telegram or mailbox.slack",
		"tracker.organization",
		"access.owner",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q:\n%s", want, msg)
		}
	}
}

func TestValidateBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	bad := strings.Replace(validJSON, `"poll_interval": "5s"`, `"poll_interval": "soon"`, 1)
	os.WriteFile(path, []byte(bad), 0o644)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Fatalf("expected poll_interval error, got %v", err)
	}
}

func TestValidateSlackNeedsChannel(t *testing.T) {
	cfg := &Config{
		Daemon:    DaemonConfig{DataDir: "/data"},
		Providers: map[string]ProviderConfig{"default": {APIKey: "k", Model: "m"}},
		Mailbox:   MailboxConfig{Slack: &SlackConfig{Token: "xoxb-1"}},
		Tracker:   TrackerConfig{Organization: "o", Project: "p", Token: "t"},
		Access:    AccessConfig{Owner: "o", Token: "t"},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "mailbox.slack.channel") {
		t.Fatalf("expected slack channel error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPSDESK_DATA_DIR", "/var/opsdesk")
	t.Setenv("OPSDESK_OPENAI_API_KEY", "sk-env")
	t.Setenv("OPSDESK_MODEL", "gpt-4o-mini")
	t.Setenv("OPSDESK_TELEGRAM_TOKEN", "tok")
	t.Setenv("OPSDESK_TELEGRAM_ALLOW_FROM", "1, 2,3")
	t.Setenv("OPSDESK_TRACKER_ORG", "acme")
	t.Setenv("OPSDESK_API_PORT", "9090")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Daemon.DataDir != "/var/opsdesk" {
		t.Errorf("data dir = %q", cfg.Daemon.DataDir)
	}
	p := cfg.Providers["default"]
	if p.Type != "openai" || p.Model != "gpt-4o-mini" {
		t.Errorf("provider = %+v", p)
	}
	if cfg.Mailbox.Telegram == nil || len(cfg.Mailbox.Telegram.AllowFrom) != 3 {
		t.Errorf("telegram = %+v", cfg.Mailbox.Telegram)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("port = %d", cfg.API.Port)
	}
}

func TestLoadFromEnvBadAllowList(t *testing.T) {
	t.Setenv("OPSDESK_TELEGRAM_TOKEN", "tok")
	t.Setenv("OPSDESK_TELEGRAM_ALLOW_FROM", "1,notanumber")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for bad allow list")
	}
}

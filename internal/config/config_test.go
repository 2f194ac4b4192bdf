package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nightscout-easyview/internal/model"
)

const validSecrets = `
easyview:
  username: follower@example.com
  password: hunter2
nightscout:
  url: https://ns.example.com/
  secret: s3cret
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validSecrets))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.EasyView.Username != "follower@example.com" || cfg.EasyView.Password != "hunter2" {
		t.Fatalf("unexpected easyview credentials %+v", cfg.EasyView)
	}
	if cfg.Nightscout.URL != "https://ns.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Nightscout.URL)
	}
	if cfg.EasyView.BaseURL != DefaultEasyViewURL {
		t.Fatalf("expected default base url, got %s", cfg.EasyView.BaseURL)
	}
	if cfg.Poll.Interval != 30*time.Second {
		t.Fatalf("expected poll interval default 30s, got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.AuthBackoff != 5*time.Minute {
		t.Fatalf("expected auth backoff default 5m, got %s", cfg.Poll.AuthBackoff)
	}
	if cfg.Poll.ReloginAttempts != 1 {
		t.Fatalf("expected relogin attempts default 1, got %d", cfg.Poll.ReloginAttempts)
	}
	if !cfg.Backfill.Enabled || cfg.Backfill.MaxWindow != 48*time.Hour {
		t.Fatalf("unexpected backfill defaults %+v", cfg.Backfill)
	}
	if cfg.Influx.Enabled() {
		t.Fatalf("influx mirror must be disabled by default")
	}
	if cfg.AgentVersion != Version {
		t.Fatalf("expected agent version %s, got %s", Version, cfg.AgentVersion)
	}
	if cfg.Source == "" {
		t.Fatalf("expected config source to be recorded")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	data := validSecrets + `
poll:
  interval: 1m
  auth_backoff: 15m
  relogin_attempts: 0
influx:
  url: http://localhost:8086
  org: home
log:
  level: DEBUG
  json: true
`
	cfg, err := Load(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Poll.Interval != time.Minute || cfg.Poll.AuthBackoff != 15*time.Minute {
		t.Fatalf("unexpected poll config %+v", cfg.Poll)
	}
	if cfg.Poll.ReloginAttempts != 0 {
		t.Fatalf("expected relogin attempts 0, got %d", cfg.Poll.ReloginAttempts)
	}
	if !cfg.Influx.Enabled() || cfg.Influx.Bucket != "nightscout" {
		t.Fatalf("unexpected influx config %+v", cfg.Influx)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("NIGHTSCOUT_SECRET", "from-env")
	t.Setenv("POLL_INTERVAL", "45s")

	data := strings.Replace(validSecrets, "  secret: s3cret\n", "", 1)
	cfg, err := Load(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Nightscout.Secret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.Nightscout.Secret)
	}
	if cfg.Poll.Interval != 45*time.Second {
		t.Fatalf("expected poll interval from env, got %s", cfg.Poll.Interval)
	}
}

func TestLoadMissingSecretIsConfigError(t *testing.T) {
	data := strings.Replace(validSecrets, "  secret: s3cret\n", "", 1)
	_, err := Load(writeConfig(t, data))
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "nightscout.secret") {
		t.Fatalf("expected error to name the missing key, got %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig for missing file, got %v", err)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "easyview: [unterminated\n"))
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig for malformed yaml, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	base, err := Load(writeConfig(t, validSecrets))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	cases := map[string]func(c *Config){
		"relogin attempts above one": func(c *Config) { c.Poll.ReloginAttempts = 2 },
		"zero poll interval":         func(c *Config) { c.Poll.Interval = 0 },
		"non-http nightscout url":    func(c *Config) { c.Nightscout.URL = "ftp://ns.example.com" },
		"influx without org": func(c *Config) {
			c.Influx.URL = "http://localhost:8086"
			c.Influx.Org = ""
		},
		"unknown log level":         func(c *Config) { c.Log.Level = "verbose" },
		"zero http timeout":         func(c *Config) { c.HTTP.Timeout = 0 },
		"nanosecond http timeout":   func(c *Config) { c.HTTP.Timeout = 50 },
		"bare number poll interval": func(c *Config) { c.Poll.Interval = 30 },
		"sub-second auth backoff":   func(c *Config) { c.Poll.AuthBackoff = 500 * time.Millisecond },
		"tiny session ttl":          func(c *Config) { c.EasyView.SessionTTL = 12 },
		"tiny backfill window":      func(c *Config) { c.Backfill.MaxWindow = 48 },
		"tiny shutdown timeout":     func(c *Config) { c.ShutdownTimeout = 20 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, model.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestLoadRejectsBareNumberInterval(t *testing.T) {
	data := validSecrets + `
poll:
  interval: 30
`
	_, err := Load(writeConfig(t, data))
	if !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig for a 30ns poll interval, got %v", err)
	}
	if !strings.Contains(err.Error(), "poll.interval") {
		t.Fatalf("expected error to name poll.interval, got %v", err)
	}
}

func TestLoadDerivesShutdownTimeout(t *testing.T) {
	data := validSecrets + `
http:
  timeout: 4s
`
	cfg, err := Load(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ShutdownTimeout != 28*time.Second || cfg.ShutdownTimeout != cfg.CycleBudget() {
		t.Fatalf("expected shutdown timeout to cover a full cycle, got %s", cfg.ShutdownTimeout)
	}

	cfg, err = Load(writeConfig(t, validSecrets+"shutdown_timeout: 5s\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("expected explicit shutdown timeout kept, got %s", cfg.ShutdownTimeout)
	}
}

func TestNightscoutTLS(t *testing.T) {
	var c Config
	tlsCfg, err := c.NightscoutTLS()
	if err != nil || tlsCfg != nil {
		t.Fatalf("expected nil tls config by default, got %v, %v", tlsCfg, err)
	}

	c.Nightscout.TLS.SkipVerify = true
	tlsCfg, err = c.NightscoutTLS()
	if err != nil || tlsCfg == nil || !tlsCfg.InsecureSkipVerify {
		t.Fatalf("expected skip-verify tls config, got %v, %v", tlsCfg, err)
	}

	c.Nightscout.TLS.CAPath = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := c.NightscoutTLS(); !errors.Is(err, model.ErrConfig) {
		t.Fatalf("expected ErrConfig for missing CA, got %v", err)
	}
}

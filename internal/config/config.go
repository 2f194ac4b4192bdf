package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"nightscout-easyview/internal/model"
)

const (
	Version            = "v0.3.0"
	DefaultEasyViewURL = "https://easyview.medtrum.eu/mobile/ajax"
	defaultConfigDir   = ".nightscout_easyview"
	defaultConfigName  = "secrets.yaml"
)

type Config struct {
	EasyView   EasyViewConfig   `mapstructure:"easyview"`
	Nightscout NightscoutConfig `mapstructure:"nightscout"`
	Poll       PollConfig       `mapstructure:"poll"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Backfill   BackfillConfig   `mapstructure:"backfill"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	Status     ListenConfig     `mapstructure:"status"`
	Probe      ListenConfig     `mapstructure:"probe"`
	Log        LogConfig        `mapstructure:"log"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AgentVersion    string        `mapstructure:"-"`
	Source          string        `mapstructure:"-"`
}

type EasyViewConfig struct {
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	BaseURL    string        `mapstructure:"base_url"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type NightscoutConfig struct {
	URL    string    `mapstructure:"url"`
	Secret string    `mapstructure:"secret"`
	TLS    TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	CAPath     string `mapstructure:"ca_path"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

type PollConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AuthBackoff     time.Duration `mapstructure:"auth_backoff"`
	ReloginAttempts int           `mapstructure:"relogin_attempts"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type BackfillConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	MaxWindow time.Duration `mapstructure:"max_window"`
}

type InfluxConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

func (c InfluxConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

type ListenConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaults = map[string]any{
	"easyview.base_url":          DefaultEasyViewURL,
	"easyview.session_ttl":       "12h",
	"nightscout.tls.ca_path":     "",
	"nightscout.tls.skip_verify": false,
	"poll.interval":              "30s",
	"poll.auth_backoff":          "5m",
	"poll.relogin_attempts":      1,
	"http.timeout":               "10s",
	"backfill.enabled":           true,
	"backfill.max_window":        "48h",
	"influx.url":                 "",
	"influx.token":               "",
	"influx.org":                 "",
	"influx.bucket":              "nightscout",
	"influx.measurement":         "glucose",
	"status.addr":                "127.0.0.1:9110",
	"probe.addr":                 "127.0.0.1:9111",
	"log.level":                  "info",
	"log.json":                   false,
	"shutdown_timeout":           "0s",
}

const (
	minPollInterval  = time.Second
	minHTTPTimeout   = 100 * time.Millisecond
	minSessionTTL    = time.Minute
	minBackfillRange = time.Minute

	// callsPerCycle is the most HTTP calls one cycle can make: login, fetch,
	// re-login, re-fetch, history, Nightscout upload and the Influx mirror.
	callsPerCycle = 7
)

// Keys without a default still have to be visible to the env overlay.
var requiredKeys = []string{
	"easyview.username",
	"easyview.password",
	"nightscout.url",
	"nightscout.secret",
}

// DefaultPath is where the secrets file lives when no -config flag is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(home, defaultConfigDir, defaultConfigName)
}

// Load reads the secrets file at path, overlays .env and process
// environment (EASYVIEW_USERNAME, NIGHTSCOUT_SECRET, ...) and validates the
// result. Every failure wraps model.ErrConfig.
func Load(path string) (Config, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath()
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: read .env: %v", model.ErrConfig, err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range requiredKeys {
		if err := v.BindEnv(k); err != nil {
			return Config{}, fmt.Errorf("%w: bind %s: %v", model.ErrConfig, k, err)
		}
	}

	source := ""
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: read %s: %v", model.ErrConfig, path, err)
		}
	} else {
		source = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", model.ErrConfig, err)
	}
	cfg.AgentVersion = Version
	cfg.Source = source
	cfg.normalize()
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = cfg.CycleBudget()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.EasyView.Username = strings.TrimSpace(c.EasyView.Username)
	c.EasyView.BaseURL = strings.TrimRight(strings.TrimSpace(c.EasyView.BaseURL), "/")
	c.Nightscout.URL = strings.TrimRight(strings.TrimSpace(c.Nightscout.URL), "/")
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

func (c Config) Validate() error {
	if c.EasyView.Username == "" {
		return configErr("easyview.username is required")
	}
	if c.EasyView.Password == "" {
		return configErr("easyview.password is required")
	}
	if c.Nightscout.URL == "" {
		return configErr("nightscout.url is required")
	}
	if c.Nightscout.Secret == "" {
		return configErr("nightscout.secret is required")
	}
	if err := validateHTTPURL("nightscout.url", c.Nightscout.URL); err != nil {
		return err
	}
	if err := validateHTTPURL("easyview.base_url", c.EasyView.BaseURL); err != nil {
		return err
	}
	// Bare YAML numbers decode as nanoseconds, so every duration has a floor.
	if c.Poll.Interval < minPollInterval {
		return configErr(fmt.Sprintf("poll.interval must be at least %s, got %s", minPollInterval, c.Poll.Interval))
	}
	if c.Poll.AuthBackoff < minPollInterval {
		return configErr(fmt.Sprintf("poll.auth_backoff must be at least %s, got %s", minPollInterval, c.Poll.AuthBackoff))
	}
	if c.Poll.ReloginAttempts < 0 || c.Poll.ReloginAttempts > 1 {
		return configErr("poll.relogin_attempts must be 0 or 1")
	}
	if c.HTTP.Timeout < minHTTPTimeout {
		return configErr(fmt.Sprintf("http.timeout must be at least %s, got %s", minHTTPTimeout, c.HTTP.Timeout))
	}
	if c.EasyView.SessionTTL != 0 && c.EasyView.SessionTTL < minSessionTTL {
		return configErr(fmt.Sprintf("easyview.session_ttl must be 0 or at least %s, got %s", minSessionTTL, c.EasyView.SessionTTL))
	}
	if c.Backfill.Enabled && c.Backfill.MaxWindow < minBackfillRange {
		return configErr(fmt.Sprintf("backfill.max_window must be at least %s when backfill is enabled", minBackfillRange))
	}
	if c.ShutdownTimeout < minPollInterval {
		return configErr(fmt.Sprintf("shutdown_timeout must be at least %s, got %s", minPollInterval, c.ShutdownTimeout))
	}
	if c.Influx.Enabled() {
		if err := validateHTTPURL("influx.url", c.Influx.URL); err != nil {
			return err
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			return configErr("influx.org and influx.bucket are required when influx.url is set")
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return configErr(fmt.Sprintf("unsupported log level %q", c.Log.Level))
	}
	return nil
}

// CycleBudget bounds how long one poll cycle can take when every call runs
// into http.timeout. It is the default shutdown_timeout.
func (c Config) CycleBudget() time.Duration {
	return callsPerCycle * c.HTTP.Timeout
}

// NightscoutTLS returns nil when the default system trust store is enough.
func (c Config) NightscoutTLS() (*tls.Config, error) {
	t := c.Nightscout.TLS
	if t.CAPath == "" && !t.SkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: t.SkipVerify}
	if t.CAPath != "" {
		caBytes, err := os.ReadFile(t.CAPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read CA file: %v", model.ErrConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, configErr("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func validateHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrConfig, key, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return configErr(fmt.Sprintf("%s must be an http(s) URL, got %q", key, raw))
	}
	return nil
}

func configErr(msg string) error {
	return fmt.Errorf("%w: %s", model.ErrConfig, msg)
}

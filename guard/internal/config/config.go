// Package config handles tamperguard configuration from YAML files and the
// environment. Every pattern list is data: the owning component compiles it.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/tamperguard/horosafe"
)

// Environment variables holding the two hashing secrets.
const (
	EnvIntegritySecret = "TAMPERGUARD_INTEGRITY_SECRET"
	EnvNetworkSecret   = "TAMPERGUARD_NETWORK_SECRET"
)

// Config is the top-level engine configuration.
type Config struct {
	CollectorURL string          `yaml:"collector_url"`
	Browser      BrowserConfig   `yaml:"browser"`
	Baseline     BaselineConfig  `yaml:"baseline"`
	Exemption    ExemptionConfig `yaml:"exemption"`
	Monitor      MonitorConfig   `yaml:"monitor"`
	Scoring      ScoringConfig   `yaml:"scoring"`
	Recovery     RecoveryConfig  `yaml:"recovery"`
	Check        CheckConfig     `yaml:"check"`
	Network      NetworkConfig   `yaml:"network"`
	Report       ReportConfig    `yaml:"report"`
	Log          LogConfig       `yaml:"log"`

	IntegritySecret []byte `yaml:"-"`
	NetworkSecret   []byte `yaml:"-"`
}

// BrowserConfig controls the Chrome instance used by the rod host.
type BrowserConfig struct {
	Remote  string `yaml:"remote"`  // DevTools websocket; empty launches a local Chrome
	Stealth string `yaml:"stealth"` // headless | headful
	Bin     string `yaml:"bin"`
}

// BaselineConfig controls baseline capture.
type BaselineConfig struct {
	MinLength        int           `yaml:"min_length"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	CriticalPatterns []string      `yaml:"critical_patterns"`
}

// ExemptionConfig lists pages and components where checks are skipped.
type ExemptionConfig struct {
	TrustedOrigins   []string `yaml:"trusted_origins"`
	Keywords         []string `yaml:"keywords"`
	ComponentMarkers []string `yaml:"component_markers"`
}

// ProtectedText is a phrase whose exact rendering is enforced.
type ProtectedText struct {
	Expected string   `yaml:"expected"`
	Variant  string   `yaml:"variant"` // regexp matching near-miss renderings
	Allow    []string `yaml:"allow"`   // regexps of legitimate superset renderings
}

// MonitorConfig controls change classification.
type MonitorConfig struct {
	SafeFragments       []string        `yaml:"safe_fragments"`
	Protected           []ProtectedText `yaml:"protected"`
	InjectionSignatures []string        `yaml:"injection_signatures"`
}

// ScoringConfig controls the confidence scorer.
type ScoringConfig struct {
	Threshold          int      `yaml:"threshold"`
	LengthDrift        int      `yaml:"length_drift"`
	FalsePositiveLimit int      `yaml:"false_positive_limit"`
	ProxySignatures    []string `yaml:"proxy_signatures"`
	DynamicMarkers     []string `yaml:"dynamic_markers"`
	EntropyMinLen      int      `yaml:"entropy_min_len"`
	EntropyMin         float64  `yaml:"entropy_min"`
}

// RecoveryConfig controls escalation.
type RecoveryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	Cooldown          time.Duration `yaml:"cooldown"`
	LockdownCountdown time.Duration `yaml:"lockdown_countdown"`
	Settle            time.Duration `yaml:"settle"` // changes ignored after a full-document restore
	LockdownTitle     string        `yaml:"lockdown_title"`
	LockdownMessage   string        `yaml:"lockdown_message"`
}

// CheckConfig controls the periodic full-page check.
type CheckConfig struct {
	Interval        time.Duration `yaml:"interval"`
	WidenedInterval time.Duration `yaml:"widened_interval"`
}

// NetworkConfig controls response interception.
type NetworkConfig struct {
	MaxBody int64 `yaml:"max_body"`
}

// ReportConfig controls the reporter queue.
type ReportConfig struct {
	QueueSize  int `yaml:"queue_size"`
	MaxContent int `yaml:"max_content"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	MaxErrors int    `yaml:"max_errors"`
}

// Default returns a configuration with every default applied and no secrets.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file and applies defaults. Secrets
// are not read; call LoadSecrets.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadSecrets fills the hashing secrets from the environment through
// getenv (os.Getenv when nil). Secrets already set are kept.
func (c *Config) LoadSecrets(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if len(c.IntegritySecret) == 0 {
		if v := getenv(EnvIntegritySecret); v != "" {
			c.IntegritySecret = []byte(v)
		}
	}
	if len(c.NetworkSecret) == 0 {
		if v := getenv(EnvNetworkSecret); v != "" {
			c.NetworkSecret = []byte(v)
		}
	}
}

// Validate checks the secrets and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if err := horosafe.ValidateSecret(c.IntegritySecret); err != nil {
		errs = append(errs, fmt.Errorf("config: integrity secret: %w", err))
	}
	if err := horosafe.ValidateSecret(c.NetworkSecret); err != nil {
		errs = append(errs, fmt.Errorf("config: network secret: %w", err))
	}
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 100 {
		errs = append(errs, fmt.Errorf("config: scoring threshold %d outside [0,100]", c.Scoring.Threshold))
	}
	if c.CollectorURL != "" {
		if err := horosafe.ValidateEndpoint(c.CollectorURL); err != nil {
			errs = append(errs, fmt.Errorf("config: collector_url: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}

	if c.Baseline.MinLength <= 0 {
		c.Baseline.MinLength = 200
	}
	if c.Baseline.RetryDelay <= 0 {
		c.Baseline.RetryDelay = 500 * time.Millisecond
	}
	if c.Baseline.CriticalPatterns == nil {
		c.Baseline.CriticalPatterns = []string{
			`(?i)happy[\s_-]*tts`,
			`(?i)text[\s-]+to[\s-]+speech`,
		}
	}

	if c.Exemption.Keywords == nil {
		c.Exemption.Keywords = []string{"upload", "docs", "verify", "verification", "captcha"}
	}
	if c.Exemption.ComponentMarkers == nil {
		c.Exemption.ComponentMarkers = []string{"data-tamper-exempt", "data-dynamic-component", "chat-root"}
	}

	if c.Monitor.SafeFragments == nil {
		c.Monitor.SafeFragments = []string{
			"loading", "spinner", "skeleton", "progress",
			"toast", "notification", "snackbar",
			"modal", "dialog", "tooltip", "popover",
			"chat", "message", "stream", "typing",
			"captcha", "verify", "verification",
		}
	}
	if c.Monitor.Protected == nil {
		c.Monitor.Protected = []ProtectedText{{
			Expected: "Happy TTS",
			Variant:  `(?i)happy[\s_-]*t{1,3}[\s_-]*s{1,2}\b`,
			Allow:    []string{`(?i)happy[\s_-]*tts[\w-]`},
		}}
	}
	if c.Monitor.InjectionSignatures == nil {
		c.Monitor.InjectionSignatures = []string{
			`(?i)<script[^>]+src\s*=\s*["']?https?://`,
			`(?i)<iframe\b`,
			`(?i)\bon(load|error|click)\s*=`,
			`(?i)injected\s+by`,
		}
	}

	if c.Scoring.Threshold == 0 {
		c.Scoring.Threshold = 30
	}
	if c.Scoring.LengthDrift <= 0 {
		c.Scoring.LengthDrift = 200
	}
	if c.Scoring.FalsePositiveLimit <= 0 {
		c.Scoring.FalsePositiveLimit = 5
	}
	if c.Scoring.ProxySignatures == nil {
		c.Scoring.ProxySignatures = []string{
			`(?i)burp\s*suite`,
			`(?i)mitmproxy`,
			`(?i)fiddler`,
			`(?i)charles\s*proxy`,
			`(?i)<!--\s*proxied`,
			`(?i)x-proxy-id`,
			`__proxy_rewrite__`,
		}
	}
	if c.Scoring.DynamicMarkers == nil {
		c.Scoring.DynamicMarkers = []string{"data-dynamic", "data-live", "aria-live", "data-timestamp", "data-stream"}
	}
	if c.Scoring.EntropyMinLen <= 0 {
		c.Scoring.EntropyMinLen = 20
	}
	if c.Scoring.EntropyMin <= 0 {
		c.Scoring.EntropyMin = 3.5
	}

	if c.Recovery.MaxAttempts <= 0 {
		c.Recovery.MaxAttempts = 3
	}
	if c.Recovery.Cooldown <= 0 {
		c.Recovery.Cooldown = 5 * time.Second
	}
	if c.Recovery.LockdownCountdown <= 0 {
		c.Recovery.LockdownCountdown = 10 * time.Second
	}
	if c.Recovery.Settle <= 0 {
		c.Recovery.Settle = time.Second
	}
	if c.Recovery.LockdownTitle == "" {
		c.Recovery.LockdownTitle = "Security warning"
	}
	if c.Recovery.LockdownMessage == "" {
		c.Recovery.LockdownMessage = "This page has been modified by software on your device or network. It will close for your protection."
	}

	if c.Check.Interval <= 0 {
		c.Check.Interval = 5 * time.Second
	}
	if c.Check.WidenedInterval <= 0 {
		c.Check.WidenedInterval = 6 * c.Check.Interval
	}

	if c.Network.MaxBody <= 0 {
		c.Network.MaxBody = horosafe.MaxResponseBody
	}

	if c.Report.QueueSize <= 0 {
		c.Report.QueueSize = 256
	}
	if c.Report.MaxContent <= 0 {
		c.Report.MaxContent = 4096
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxErrors <= 0 {
		c.Log.MaxErrors = 50
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/models"
	"github.com/hakim/scriptwatch/internal/probe"
	"github.com/hakim/scriptwatch/internal/rules"
	"github.com/hakim/scriptwatch/internal/vendor"
)

// Config represents the application configuration
type Config struct {
	DataDir     string        `mapstructure:"data_dir" yaml:"data_dir"`
	DBPath      string        `mapstructure:"db_path" yaml:"db_path"`
	BlockFile   string        `mapstructure:"block_file" yaml:"block_file"`
	EvidenceDir string        `mapstructure:"evidence_dir" yaml:"evidence_dir"`
	Log         LogConfig     `mapstructure:"log" yaml:"log"`
	Probe       ProbeConfig   `mapstructure:"probe" yaml:"probe"`
	Browser     BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Verify      VerifyConfig  `mapstructure:"verify" yaml:"verify"`
	Batch       BatchConfig   `mapstructure:"batch" yaml:"batch"`
	Blocks      BlocksConfig  `mapstructure:"blocks" yaml:"blocks"`
	Rules       RulesConfig   `mapstructure:"rules" yaml:"rules"`
	Notify      NotifyConfig  `mapstructure:"notify" yaml:"notify"`
	Server      ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// ProbeConfig controls the quick HTTP probe
type ProbeConfig struct {
	Timeout           string   `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	ChallengePhrases  []string `mapstructure:"challenge_phrases" yaml:"challenge_phrases"`
}

// BrowserConfig controls browser sessions
type BrowserConfig struct {
	Headless        bool                 `mapstructure:"headless" yaml:"headless"`
	ChromePath      string               `mapstructure:"chrome_path" yaml:"chrome_path"`
	PageLoadTimeout string               `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	StartAttempts   int                  `mapstructure:"start_attempts" yaml:"start_attempts"`
	// RestartEvery and RestartPause override the preset when set.
	RestartEvery    int                  `mapstructure:"restart_every" yaml:"restart_every,omitempty"`
	RestartPause    string               `mapstructure:"restart_pause" yaml:"restart_pause,omitempty"`
	UserAgents      []string             `mapstructure:"user_agents" yaml:"user_agents"`
	WindowSizes     []browser.WindowSize `mapstructure:"window_sizes" yaml:"window_sizes"`
	Languages       []string             `mapstructure:"languages" yaml:"languages"`
}

// VerifyConfig controls the browser verifier
type VerifyConfig struct {
	MaxAttempts    int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	MaxWait        string   `mapstructure:"max_wait" yaml:"max_wait"`
	Settle         string   `mapstructure:"settle" yaml:"settle"`
	PollInterval   string   `mapstructure:"poll_interval" yaml:"poll_interval"`
	RetryJitterMin string   `mapstructure:"retry_jitter_min" yaml:"retry_jitter_min"`
	RetryJitterMax string   `mapstructure:"retry_jitter_max" yaml:"retry_jitter_max"`
	BlockPhrases   []string `mapstructure:"block_phrases" yaml:"block_phrases"`
	WarmPatterns   []string `mapstructure:"warm_patterns" yaml:"warm_patterns"`
	Screenshots    bool     `mapstructure:"screenshots" yaml:"screenshots"`
}

// BatchConfig controls pacing between browser jobs
type BatchConfig struct {
	Preset string `mapstructure:"preset" yaml:"preset"`
}

// BlocksConfig controls the block tracker
type BlocksConfig struct {
	Threshold int    `mapstructure:"threshold" yaml:"threshold"`
	Window    string `mapstructure:"window" yaml:"window"`
}

// RulesConfig holds the signature table and vendor fingerprints
type RulesConfig struct {
	Base           string            `mapstructure:"base" yaml:"base"`
	Signatures     []rules.Signature `mapstructure:"signatures" yaml:"signatures"`
	Expected       []ExpectedCount   `mapstructure:"expected" yaml:"expected"`
	VendorExpected []VendorCount     `mapstructure:"vendor_expected" yaml:"vendor_expected"`
	Vendors        []vendor.Vendor   `mapstructure:"vendors" yaml:"vendors,omitempty"`
}

// ExpectedCount is the PASS count for a category. Lists rather than maps
// because viper folds map keys to lower case.
type ExpectedCount struct {
	Category models.Category `mapstructure:"category" yaml:"category"`
	Count    int             `mapstructure:"count" yaml:"count"`
}

// VendorCount overrides the STD expectation for a platform label
type VendorCount struct {
	Vendor string `mapstructure:"vendor" yaml:"vendor"`
	Count  int    `mapstructure:"count" yaml:"count"`
}

// NotifyConfig controls the batch completion webhook
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// ServerConfig controls the HTTP service
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Load reads and parses configuration from a YAML file
// If path is empty, searches for scriptwatch.yaml in current directory and ~/.config/scriptwatch/
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scriptwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")

		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".config", "scriptwatch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Start from defaults so a partial file only overrides what it names.
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir cannot be empty"))
	}

	durations := map[string]string{
		"probe.timeout":             c.Probe.Timeout,
		"browser.page_load_timeout": c.Browser.PageLoadTimeout,
		"browser.restart_pause":     c.Browser.RestartPause,
		"verify.max_wait":           c.Verify.MaxWait,
		"verify.settle":             c.Verify.Settle,
		"verify.poll_interval":      c.Verify.PollInterval,
		"verify.retry_jitter_min":   c.Verify.RetryJitterMin,
		"verify.retry_jitter_max":   c.Verify.RetryJitterMax,
		"blocks.window":             c.Blocks.Window,
	}
	for key, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, val))
		}
	}

	if c.Verify.MaxAttempts <= 0 {
		errs = append(errs, errors.New("verify.max_attempts must be positive"))
	}

	if c.Browser.RestartEvery < 0 {
		errs = append(errs, errors.New("browser.restart_every cannot be negative"))
	}

	if c.Blocks.Threshold <= 0 {
		errs = append(errs, errors.New("blocks.threshold must be positive"))
	}

	if c.Probe.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("probe.requests_per_second cannot be negative"))
	}

	if Duration(c.Verify.RetryJitterMax, 0) < Duration(c.Verify.RetryJitterMin, 0) {
		errs = append(errs, errors.New("verify.retry_jitter_max must not be below retry_jitter_min"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Duration parses s, returning fallback when s is empty or malformed
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// RuleTable builds the signature table from configuration
func (c *Config) RuleTable() *rules.Table {
	tbl := rules.DefaultTable()
	if c.Rules.Base != "" {
		tbl.Base = c.Rules.Base
	}
	if len(c.Rules.Signatures) > 0 {
		tbl.Signatures = c.Rules.Signatures
	}
	for _, e := range c.Rules.Expected {
		tbl.Expected[e.Category] = e.Count
	}
	if len(c.Rules.VendorExpected) > 0 {
		tbl.VendorExpected = make(map[string]int, len(c.Rules.VendorExpected))
		for _, v := range c.Rules.VendorExpected {
			tbl.VendorExpected[v.Vendor] = v.Count
		}
	}
	return tbl
}

// VendorClassifier builds the provider classifier from configuration
func (c *Config) VendorClassifier() *vendor.Classifier {
	return vendor.NewClassifier(c.Rules.Vendors)
}

// ProberConfig converts quick-probe settings
func (c *Config) ProberConfig() probe.Config {
	client := probe.DefaultClientConfig()
	client.Timeout = Duration(c.Probe.Timeout, client.Timeout)
	return probe.Config{
		Client:            client,
		ChallengePhrases:  c.Probe.ChallengePhrases,
		RequestsPerSecond: c.Probe.RequestsPerSecond,
	}
}

// LaunchConfig converts browser settings for the launcher
func (c *Config) LaunchConfig() browser.LaunchConfig {
	def := browser.DefaultLaunchConfig()
	return browser.LaunchConfig{
		Headless:        c.Browser.Headless,
		ExecPath:        c.Browser.ChromePath,
		PageLoadTimeout: Duration(c.Browser.PageLoadTimeout, def.PageLoadTimeout),
		StartAttempts:   c.Browser.StartAttempts,
		StartRetryPause: def.StartRetryPause,
		UserAgents:      c.Browser.UserAgents,
		WindowSizes:     c.Browser.WindowSizes,
		Languages:       c.Browser.Languages,
	}
}

// VerifierConfig converts verifier settings
func (c *Config) VerifierConfig() browser.VerifyConfig {
	def := browser.DefaultVerifyConfig()
	return browser.VerifyConfig{
		MaxAttempts:    c.Verify.MaxAttempts,
		MaxWait:        Duration(c.Verify.MaxWait, def.MaxWait),
		Settle:         Duration(c.Verify.Settle, def.Settle),
		PollInterval:   Duration(c.Verify.PollInterval, def.PollInterval),
		RetryJitterMin: Duration(c.Verify.RetryJitterMin, def.RetryJitterMin),
		RetryJitterMax: Duration(c.Verify.RetryJitterMax, def.RetryJitterMax),
		BlockPhrases:   c.Verify.BlockPhrases,
		Screenshots:    c.Verify.Screenshots,
	}
}

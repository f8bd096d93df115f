package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hakim/scriptwatch/internal/browser"
	"github.com/hakim/scriptwatch/internal/probe"
	"github.com/hakim/scriptwatch/internal/rules"
)

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	tbl := rules.DefaultTable()
	launch := browser.DefaultLaunchConfig()

	var expected []ExpectedCount
	for _, sig := range tbl.Signatures {
		expected = append(expected, ExpectedCount{Category: sig.Category, Count: tbl.Expected[sig.Category]})
	}

	return &Config{
		DataDir:     "data",
		DBPath:      filepath.Join("data", "scriptwatch.db"),
		BlockFile:   filepath.Join("data", "block_history.json"),
		EvidenceDir: "scans",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Probe: ProbeConfig{
			Timeout:           "10s",
			RequestsPerSecond: 2,
			ChallengePhrases:  probe.DefaultChallengePhrases,
		},
		Browser: BrowserConfig{
			Headless:        true,
			PageLoadTimeout: "30s",
			StartAttempts:   3,
			UserAgents:      launch.UserAgents,
			WindowSizes:     launch.WindowSizes,
			Languages:       launch.Languages,
		},
		Verify: VerifyConfig{
			MaxAttempts:    2,
			MaxWait:        "15s",
			Settle:         "3s",
			PollInterval:   "1s",
			RetryJitterMin: "3s",
			RetryJitterMax: "8s",
			BlockPhrases:   browser.DefaultBlockPhrases,
			WarmPatterns:   browser.DefaultWarmPatterns,
			Screenshots:    true,
		},
		Batch: BatchConfig{
			Preset: "standard",
		},
		Blocks: BlocksConfig{
			Threshold: 3,
			Window:    "168h",
		},
		Rules: RulesConfig{
			Base:           tbl.Base,
			Signatures:     tbl.Signatures,
			Expected:       expected,
			VendorExpected: []VendorCount{
				{Vendor: "DealerOn", Count: 1},
				{Vendor: "Dealer.com", Count: 1},
			},
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

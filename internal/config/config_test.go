package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hakim/scriptwatch/internal/models"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestWriteDefaultThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptwatch.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Blocks.Threshold)
	assert.Equal(t, "15s", cfg.Verify.MaxWait)
	assert.Zero(t, cfg.Browser.RestartEvery)
	assert.Empty(t, cfg.Browser.RestartPause)

	tbl := cfg.RuleTable()
	assert.Equal(t, 4, tbl.Expected[models.CategorySPA])
	assert.Equal(t, 1, tbl.VendorExpected["DealerOn"])
	require.Len(t, tbl.Signatures, 4)
	assert.Equal(t, models.CategorySPA, tbl.Signatures[0].Category)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptwatch.yaml")
	body := "blocks:\n  threshold: 5\nverify:\n  max_wait: 20s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Blocks.Threshold)
	assert.Equal(t, 20*time.Second, cfg.VerifierConfig().MaxWait)
	assert.Equal(t, 3*time.Second, cfg.VerifierConfig().Settle)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Verify.MaxWait = "fifteen"
	cfg.Blocks.Threshold = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir cannot be empty")
	assert.Contains(t, err.Error(), "verify.max_wait")
	assert.Contains(t, err.Error(), "blocks.threshold")
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}

func TestVendorOverridesKeepCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptwatch.yaml")
	body := "rules:\n  vendor_expected:\n    - vendor: Fox Dealer\n      count: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	tbl := cfg.RuleTable()
	assert.Equal(t, map[string]int{"Fox Dealer": 3}, tbl.VendorExpected)
}

func TestProberConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probe.Timeout = "4s"

	pc := cfg.ProberConfig()
	assert.Equal(t, 4*time.Second, pc.Client.Timeout)
	assert.Equal(t, 2.0, pc.RequestsPerSecond)
	assert.NotEmpty(t, pc.ChallengePhrases)
}

func TestExplicitRestartSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scriptwatch.yaml")
	body := "browser:\n  restart_every: 7\n  restart_pause: 10s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Browser.RestartEvery)
	assert.Equal(t, 10*time.Second, Duration(cfg.Browser.RestartPause, 0))

	cfg.Browser.RestartEvery = -1
	assert.ErrorContains(t, cfg.Validate(), "browser.restart_every")
}

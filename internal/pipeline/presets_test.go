package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPacingBands(t *testing.T) {
	p := DefaultPacing()

	assert.Equal(t, 2*time.Second, p.Next(0, 0))
	assert.Equal(t, 5*time.Second, p.Next(0.69, 1))
	assert.Equal(t, 500*time.Millisecond, p.Next(0.75, 0))
	assert.Equal(t, 5*time.Second, p.Next(0.92, 0))
	assert.Equal(t, 10*time.Second, p.Next(0.95, 0.5))
}

func TestEmptyPacingNeverWaits(t *testing.T) {
	assert.Zero(t, Pacing{}.Next(0.5, 0.5))
}

func TestGetPreset(t *testing.T) {
	p, err := GetPreset("Careful")
	require.NoError(t, err)
	assert.Equal(t, 2, p.RestartEvery)

	// Mutating the copy leaves the registry alone.
	p.Pacing.Bands[0].Min = 0
	again, _ := GetPreset("careful")
	assert.Equal(t, 4*time.Second, again.Pacing.Bands[0].Min)

	_, err = GetPreset("reckless")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "careful, fast, standard")
}

func TestPresetApply(t *testing.T) {
	p, err := GetPreset("fast")
	require.NoError(t, err)

	cfg := p.Apply(Config{})
	assert.Equal(t, 5, cfg.RestartEvery)
	assert.Equal(t, time.Second, cfg.RestartPause)
	assert.Equal(t, "fast", cfg.Preset)
	assert.Len(t, cfg.Pacing.Bands, 1)
}

func TestPresetApplyKeepsExplicitRestartSettings(t *testing.T) {
	p, err := GetPreset("fast")
	require.NoError(t, err)

	cfg := p.Apply(Config{RestartEvery: 8, RestartPause: 4 * time.Second})
	assert.Equal(t, 8, cfg.RestartEvery)
	assert.Equal(t, 4*time.Second, cfg.RestartPause)
	assert.Len(t, cfg.Pacing.Bands, 1)
}

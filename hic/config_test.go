package hic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nevents: 50\ntswitch: 0.165\nhydro_args: [etas=0.08]\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.NEvents)
	assert.Equal(t, 0.165, cfg.TSwitch)
	assert.Equal(t, []string{"etas=0.08"}, cfg.HydroArgs)
	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultConfig().StreamTime, cfg.StreamTime)
}

func TestApplyRank_SubstitutesAllPaths(t *testing.T) {
	t.Setenv("HIC_RANK", "17")
	cfg := DefaultConfig()
	cfg.Results = "out/{rank}/results.dat"
	cfg.Checkpoint = "out/{rank}/checkpoint.dat"

	require.NoError(t, cfg.ApplyRank())

	assert.Equal(t, "out/17/results.dat", cfg.Results)
	assert.Equal(t, "out/17/checkpoint.dat", cfg.Checkpoint)
}

func TestApplyRank_UnsetRankIsStartupError(t *testing.T) {
	for _, v := range rankEnvVars {
		t.Setenv(v, "")
	}
	cfg := DefaultConfig()
	cfg.Results = "out/{rank}/results.dat"

	err := cfg.ApplyRank()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{rank}")
}

func TestApplyRank_NoTemplateNeedsNoRank(t *testing.T) {
	for _, v := range rankEnvVars {
		t.Setenv(v, "")
	}
	cfg := DefaultConfig()
	assert.NoError(t, cfg.ApplyRank())
}

func TestConfigValidate(t *testing.T) {
	ok := DefaultConfig()
	assert.NoError(t, ok.Validate())

	noEvents := ok
	noEvents.NEvents = 0
	assert.Error(t, noEvents.Validate())

	noStep := ok
	noStep.NucleonWidth, noStep.GridStep = 0, 0
	assert.Error(t, noStep.Validate())

	noResults := ok
	noResults.Results = ""
	assert.Error(t, noResults.Validate())

	badTswitch := ok
	badTswitch.TSwitch = -1
	assert.Error(t, badTswitch.Validate())
}

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleConfig_FlagsOverrideConfigFile(t *testing.T) {
	// GIVEN a config file and an explicitly set flag for one of its fields
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nevents: 40\ntswitch: 0.148\n"), 0o644))
	require.NoError(t, runCmd.Flags().Set("config", path))
	require.NoError(t, runCmd.Flags().Set("tswitch", "0.154"))

	// WHEN assembling the configuration
	cfg := assembleConfig(runCmd)

	// THEN file values apply where no flag was set, and the flag wins otherwise
	assert.Equal(t, 40, cfg.NEvents)
	assert.Equal(t, 0.154, cfg.TSwitch)
}

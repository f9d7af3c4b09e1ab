package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.Equal(t, 3000, cfg.OutputTruncation)
	assert.NotNil(t, cfg.Logger())
}

func TestNewConfigOptionsOverrideDefaults(t *testing.T) {
	cfg, err := NewConfig("", WithMaxSteps(3), WithMaxConcurrency(2))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxSteps)
	assert.Equal(t, 2, cfg.MaxConcurrency)
}

func TestNewConfigEnvOverridesDefaultButNotOption(t *testing.T) {
	t.Setenv("FLOWMIND_MAX_STEPS", "42")
	cfg, err := NewConfig("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MaxSteps)

	cfg2, err := NewConfig("", WithMaxSteps(7))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg2.MaxSteps, "explicit option must win over env")
}

func TestNewConfigMissingFileIsNotFatal(t *testing.T) {
	_, err := NewConfig("/nonexistent/path/to/config.yaml")
	require.NoError(t, err)
}

func TestNewConfigBadFileErrors(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bad-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(": not valid yaml :::")
	require.NoError(t, err)
	f.Close()

	_, err = NewConfig(f.Name())
	require.Error(t, err)
}

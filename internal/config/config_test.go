package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenFileEmpty(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10*time.Second, cfg.TestPlan.RampDuration)
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9999
test_plan:
  max_concurrency: 250
  target_tps: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 250, cfg.TestPlan.MaxConcurrency)
	require.Equal(t, 500, cfg.TestPlan.TargetTPS)
	// Fields absent from the file keep their Default() value, because the
	// YAML is decoded over the Default() base rather than a zero struct.
	require.Equal(t, "concurrency_bounded", cfg.TestPlan.Mode)
}

func TestLoadFromEnvOverridesPort(t *testing.T) {
	t.Setenv("LOADSTORM_PORT", "7777")
	cfg := Default()
	LoadFromEnv(&cfg)
	require.Equal(t, 7777, cfg.Server.Port)
}

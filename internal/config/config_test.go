package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default configuration tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "datasets", cfg.Datasets.Dir)
	assert.Empty(t, cfg.Datasets.Names)

	assert.Equal(t, 20, cfg.Indexes.BucketSize)
	assert.Equal(t, 20, cfg.Indexes.NodeCapacity)
	assert.Equal(t, 10000, cfg.Indexes.SampleSize)
	assert.Equal(t, 8, cfg.Indexes.PivotCount)
	assert.Equal(t, 1.0, cfg.Indexes.Rho)
	assert.Equal(t, 3, cfg.Indexes.Levels)
	assert.Equal(t, int64(42), cfg.Indexes.Seed)

	assert.Equal(t, []float64{0.02, 0.04, 0.08, 0.16, 0.32}, cfg.Workloads.Selectivities)
	assert.Equal(t, []int{5, 10, 20, 50, 100}, cfg.Workloads.KValues)
	assert.Equal(t, int64(12345), cfg.Workloads.QuerySeed)

	assert.Equal(t, "results", cfg.Output.Dir)
	assert.Equal(t, "results/runs.db", cfg.Output.ResultsDB)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, runtime.NumCPU(), cfg.Performance.Workers)
}

func TestConfig_VersionDefaultsToOne(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Version)
}

// =============================================================================
// Configuration file loading tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a directory with no metricbench.yaml
	tmpDir := t.TempDir()

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: defaults are returned without error
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 20, cfg.Indexes.NodeCapacity)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	// Given: a directory with metricbench.yaml
	tmpDir := t.TempDir()
	configContent := `
indexes:
  node_capacity: 64
  pivot_count: 16
  rho: 2.5
workloads:
  k_values: [1, 20]
`
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	// When: loading configuration
	cfg, err := Load(tmpDir)

	// Then: YAML values override defaults
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Indexes.NodeCapacity)
	assert.Equal(t, 16, cfg.Indexes.PivotCount)
	assert.Equal(t, 2.5, cfg.Indexes.Rho)
	assert.Equal(t, []int{1, 20}, cfg.Workloads.KValues)
}

func TestLoad_YmlExtension_AlsoLoads(t *testing.T) {
	// Given: a directory with metricbench.yml (alternative extension)
	tmpDir := t.TempDir()
	configContent := `
datasets:
  dir: /data/vectors
`
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "/data/vectors", cfg.Datasets.Dir)
}

func TestLoad_YamlTakesPrecedenceOverYml(t *testing.T) {
	// Given: both extensions exist
	tmpDir := t.TempDir()
	yamlContent := "datasets:\n  dir: yaml-dir\n"
	ymlContent := "datasets:\n  dir: yml-dir\n"

	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte(yamlContent), 0o644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(tmpDir, "metricbench.yml"), []byte(ymlContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "yaml-dir", cfg.Datasets.Dir)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "indexes: [unterminated"
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	_, err = Load(tmpDir)
	assert.Error(t, err)
}

func TestLoad_InvalidValue_FailsValidation(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "logging:\n  level: loud\n"
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	_, err = Load(tmpDir)
	assert.Error(t, err)
}

// =============================================================================
// Environment variable override tests
// =============================================================================

func TestApplyEnvOverrides_DatasetsDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("METRICBENCH_DATASETS_DIR", "/custom/datasets")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "/custom/datasets", cfg.Datasets.Dir)
}

func TestApplyEnvOverrides_LogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("METRICBENCH_LOG_LEVEL", "debug")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvOverrides_Seed(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("METRICBENCH_SEED", "777")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, int64(777), cfg.Indexes.Seed)
}

func TestApplyEnvOverrides_Workers(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("METRICBENCH_WORKERS", "4")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Performance.Workers)
}

func TestApplyEnvOverrides_TakesPrecedenceOverYaml(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte("logging:\n  level: warn\n"), 0o644)
	require.NoError(t, err)
	t.Setenv("METRICBENCH_LOG_LEVEL", "error")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

// =============================================================================
// Project root discovery tests
// =============================================================================

func TestFindProjectRoot_FindsGitDir(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".git"), 0o755))
	nested := filepath.Join(tmpDir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	root, err := FindProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_FindsConfigFileWithoutGit(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "metricbench.yaml"), []byte("version: 1"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsStartDir(t *testing.T) {
	tmpDir := t.TempDir()
	root, err := FindProjectRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// User config path tests
// =============================================================================

func TestGetUserConfigPath_RespectsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/home")
	assert.Equal(t, filepath.Join("/xdg/home", "metricbench", "config.yaml"), GetUserConfigPath())
}

func TestUserConfigExists_FalseWhenAbsent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.False(t, UserConfigExists())
}

// =============================================================================
// WriteYAML round trip
// =============================================================================

func TestWriteYAML_RoundTrips(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.yaml")

	cfg := NewConfig()
	cfg.Indexes.PivotCount = 12
	require.NoError(t, cfg.WriteYAML(path))

	reloaded := NewConfig()
	require.NoError(t, reloaded.loadYAML(path))
	assert.Equal(t, 12, reloaded.Indexes.PivotCount)
}

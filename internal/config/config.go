package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete benchmark harness configuration: which
// datasets and indexes to run, the workload parameters, and where
// results go.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Datasets    DatasetsConfig    `yaml:"datasets" json:"datasets"`
	Indexes     IndexesConfig     `yaml:"indexes" json:"indexes"`
	Workloads   WorkloadsConfig   `yaml:"workloads" json:"workloads"`
	Output      OutputConfig      `yaml:"output" json:"output"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
}

// DatasetsConfig selects which ObjectDB datasets to run against.
type DatasetsConfig struct {
	// Dir holds dataset files plus their queries2k/radii2k/pivots2k sidecars.
	Dir string `yaml:"dir" json:"dir"`
	// Names restricts the run to these datasets (empty = the CLI's built-in list).
	Names []string `yaml:"names" json:"names"`
}

// IndexesConfig selects which index families to build and how to size
// them. MM and SM name the main-memory and secondary-memory families
// (e.g. "bkt", "gnat", "mtree", "egnat"); empty means all.
type IndexesConfig struct {
	MM []string `yaml:"mm" json:"mm"`
	SM []string `yaml:"sm" json:"sm"`

	BucketSize   int     `yaml:"bucket_size" json:"bucket_size"`
	NodeCapacity int     `yaml:"node_capacity" json:"node_capacity"`
	SampleSize   int     `yaml:"sample_size" json:"sample_size"`
	PivotCount   int     `yaml:"pivot_count" json:"pivot_count"`
	Rho          float64 `yaml:"rho" json:"rho"`
	Levels       int     `yaml:"levels" json:"levels"`
	Seed         int64   `yaml:"seed" json:"seed"`
}

// WorkloadsConfig names the cartesian product of query workloads the
// harness runs per (index, dataset) pair.
type WorkloadsConfig struct {
	Selectivities []float64 `yaml:"selectivities" json:"selectivities"`
	KValues       []int     `yaml:"k_values" json:"k_values"`
	PivotCounts   []int     `yaml:"pivot_counts" json:"pivot_counts"`
	QuerySeed     int64     `yaml:"query_seed" json:"query_seed"`
}

// OutputConfig configures where harness results land.
type OutputConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	ResultsDB  string `yaml:"results_db" json:"results_db"`
	PrettyJSON bool   `yaml:"pretty_json" json:"pretty_json"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// PerformanceConfig holds worker-count and RAF cache-size settings. They
// are loaded, merged and overridable from the environment, but neither
// the harness nor internal/raf reads them.
type PerformanceConfig struct {
	Workers      int `yaml:"workers" json:"workers"`
	RAFCacheSize int `yaml:"raf_cache_size" json:"raf_cache_size"`
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Datasets: DatasetsConfig{
			Dir:   "datasets",
			Names: nil,
		},
		Indexes: IndexesConfig{
			MM:           nil,
			SM:           nil,
			BucketSize:   20,
			NodeCapacity: 20,
			SampleSize:   10000,
			PivotCount:   8,
			Rho:          1,
			Levels:       3,
			Seed:         42,
		},
		Workloads: WorkloadsConfig{
			Selectivities: []float64{0.02, 0.04, 0.08, 0.16, 0.32},
			KValues:       []int{5, 10, 20, 50, 100},
			PivotCounts:   []int{3, 5, 10, 15, 20},
			QuerySeed:     12345,
		},
		Output: OutputConfig{
			Dir:        "results",
			ResultsDB:  "results/runs.db",
			PrettyJSON: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Performance: PerformanceConfig{
			Workers:      runtime.NumCPU(),
			RAFCacheSize: 1024,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration
// file, following the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/metricbench/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/metricbench/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "metricbench", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "metricbench", "config.yaml")
	}
	return filepath.Join(home, ".config", "metricbench", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// overrides in order of increasing precedence:
//  1. hardcoded defaults
//  2. user/global config (~/.config/metricbench/config.yaml)
//  3. project config (metricbench.yaml in dir)
//  4. environment variables (METRICBENCH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile loads configuration directly from an explicit YAML path
// (the CLI's --config flag), applying the same user-config and
// env-override precedence as Load, but without the project directory
// metricbench.yaml/.yml discovery step.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from metricbench.yaml or
// metricbench.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, "metricbench.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, "metricbench.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Datasets.Dir != "" {
		c.Datasets.Dir = other.Datasets.Dir
	}
	if len(other.Datasets.Names) > 0 {
		c.Datasets.Names = other.Datasets.Names
	}

	if len(other.Indexes.MM) > 0 {
		c.Indexes.MM = other.Indexes.MM
	}
	if len(other.Indexes.SM) > 0 {
		c.Indexes.SM = other.Indexes.SM
	}
	if other.Indexes.BucketSize != 0 {
		c.Indexes.BucketSize = other.Indexes.BucketSize
	}
	if other.Indexes.NodeCapacity != 0 {
		c.Indexes.NodeCapacity = other.Indexes.NodeCapacity
	}
	if other.Indexes.SampleSize != 0 {
		c.Indexes.SampleSize = other.Indexes.SampleSize
	}
	if other.Indexes.PivotCount != 0 {
		c.Indexes.PivotCount = other.Indexes.PivotCount
	}
	if other.Indexes.Rho != 0 {
		c.Indexes.Rho = other.Indexes.Rho
	}
	if other.Indexes.Levels != 0 {
		c.Indexes.Levels = other.Indexes.Levels
	}
	if other.Indexes.Seed != 0 {
		c.Indexes.Seed = other.Indexes.Seed
	}

	if len(other.Workloads.Selectivities) > 0 {
		c.Workloads.Selectivities = other.Workloads.Selectivities
	}
	if len(other.Workloads.KValues) > 0 {
		c.Workloads.KValues = other.Workloads.KValues
	}
	if len(other.Workloads.PivotCounts) > 0 {
		c.Workloads.PivotCounts = other.Workloads.PivotCounts
	}
	if other.Workloads.QuerySeed != 0 {
		c.Workloads.QuerySeed = other.Workloads.QuerySeed
	}

	if other.Output.Dir != "" {
		c.Output.Dir = other.Output.Dir
	}
	if other.Output.ResultsDB != "" {
		c.Output.ResultsDB = other.Output.ResultsDB
	}
	if other.Output.PrettyJSON {
		c.Output.PrettyJSON = other.Output.PrettyJSON
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}

	if other.Performance.Workers != 0 {
		c.Performance.Workers = other.Performance.Workers
	}
	if other.Performance.RAFCacheSize != 0 {
		c.Performance.RAFCacheSize = other.Performance.RAFCacheSize
	}
}

// applyEnvOverrides applies METRICBENCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("METRICBENCH_DATASETS_DIR"); v != "" {
		c.Datasets.Dir = v
	}
	if v := os.Getenv("METRICBENCH_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("METRICBENCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("METRICBENCH_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Indexes.Seed = seed
		}
	}
	if v := os.Getenv("METRICBENCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Performance.Workers = n
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Indexes.NodeCapacity < 0 {
		return fmt.Errorf("indexes.node_capacity must be non-negative, got %d", c.Indexes.NodeCapacity)
	}
	if c.Indexes.PivotCount < 0 {
		return fmt.Errorf("indexes.pivot_count must be non-negative, got %d", c.Indexes.PivotCount)
	}
	if c.Indexes.Rho < 0 {
		return fmt.Errorf("indexes.rho must be non-negative, got %f", c.Indexes.Rho)
	}
	for _, sel := range c.Workloads.Selectivities {
		if sel < 0 || sel > 1 {
			return fmt.Errorf("workloads.selectivities entries must be in [0,1], got %f", sel)
		}
	}
	for _, k := range c.Workloads.KValues {
		if k <= 0 {
			return fmt.Errorf("workloads.k_values entries must be positive, got %d", k)
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file, if present.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a metricbench.yaml/.yml file.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, "metricbench.yaml")) ||
			fileExists(filepath.Join(currentDir, "metricbench.yml")) {
			return currentDir, nil
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/metricbench/internal/config"
	"github.com/Aman-CERP/metricbench/internal/harness"
	"github.com/Aman-CERP/metricbench/internal/logging"
	"github.com/Aman-CERP/metricbench/internal/progressui"
	"github.com/Aman-CERP/metricbench/internal/resultstore"
)

// defaultDatasetNames is the built-in list run.go iterates over when no
// positional dataset arguments and no datasets.names config entry are
// given (spec §6's "iterating a built-in list if absent").
var defaultDatasetNames = []string{"nasa", "colors", "histogram256"}

// datasetExtensions are the file suffixes tried, in order, when resolving
// a dataset name to a file under datasets.dir.
var datasetExtensions = []string{"", ".txt", ".ascii", ".dat"}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if len(indexNames) > 0 {
		cfg.Indexes.MM = indexNames
		cfg.Indexes.SM = indexNames
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("logging setup: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	store, err := resultstore.Open(cfg.Output.ResultsDB)
	if err != nil {
		return fmt.Errorf("resultstore: %w", err)
	}
	defer store.Close()

	renderer := progressui.New(progressui.NewConfig(cmd.OutOrStdout()))

	runID := newRunID()
	h := harness.New(cfg, logger, renderer, store, runID)

	datasetNames := resolveDatasetNames(args, cfg.Datasets.Names)
	datasets, missing := resolveDatasets(cfg.Datasets.Dir, datasetNames)
	for _, name := range missing {
		logger.Warn("dataset file not found, skipping", "dataset", name, "dir", cfg.Datasets.Dir)
	}
	if len(datasets) == 0 {
		return fmt.Errorf("no datasets resolved under %s", cfg.Datasets.Dir)
	}

	factories := harness.DefaultFactories(cfg.Indexes)
	if len(factories) == 0 {
		return fmt.Errorf("no indexes selected (check --indexes)")
	}

	workloads := harness.Workloads{
		Selectivities: cfg.Workloads.Selectivities,
		KValues:       cfg.Workloads.KValues,
		PivotCounts:   cfg.Workloads.PivotCounts,
	}

	report, err := h.Run(ctx, datasets, factories, workloads)
	if err != nil {
		return fmt.Errorf("benchmark run: %w", err)
	}

	if err := writeReport(cfg.Output.Dir, report, cfg.Output.PrettyJSON); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "metricbench: %d records written to %s (run %s)\n",
		len(report.Records), cfg.Output.Dir, runID)
	return nil
}

// loadConfig loads from --config if given, otherwise discovers
// metricbench.yaml starting from the current directory.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root = "."
	}
	return config.Load(root)
}

// resolveDatasetNames applies the precedence CLI args > configured
// names > built-in default list.
func resolveDatasetNames(args, configured []string) []string {
	if len(args) > 0 {
		return args
	}
	if len(configured) > 0 {
		return configured
	}
	return defaultDatasetNames
}

// resolveDatasets maps each dataset name to a file under dir, trying the
// extensions in datasetExtensions. Names with no matching file are
// returned in missing rather than erroring, matching the harness's
// missing-dataset failure policy (spec §4.1/§7: log and skip).
func resolveDatasets(dir string, names []string) (datasets []harness.Dataset, missing []string) {
	for _, name := range names {
		found := false
		for _, ext := range datasetExtensions {
			path := filepath.Join(dir, name+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				datasets = append(datasets, harness.Dataset{Name: name, Path: path})
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return datasets, missing
}

// writeReport splits the report into one JSON array per (index, dataset)
// pair and writes it to results/<IndexName>_<dataset>.json (spec §6).
func writeReport(dir string, report harness.Report, pretty bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	type key struct{ index, dataset string }
	groups := make(map[key][]harness.Record)
	var order []key
	for _, rec := range report.Records {
		k := key{rec.Index, rec.Dataset}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rec)
	}

	for _, k := range order {
		var (
			data []byte
			err  error
		)
		if pretty {
			data, err = json.MarshalIndent(groups[k], "", "  ")
		} else {
			data, err = json.Marshal(groups[k])
		}
		if err != nil {
			return fmt.Errorf("marshal %s/%s: %w", k.index, k.dataset, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", k.index, k.dataset))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// newRunID derives a run identifier from the process ID, unique
// enough to key the results ledger without needing wall-clock time
// inside the harness itself.
func newRunID() string {
	return fmt.Sprintf("run-%d", os.Getpid())
}

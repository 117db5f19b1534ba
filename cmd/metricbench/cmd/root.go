// Package cmd provides the CLI commands for metricbench.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/metricbench/pkg/version"
)

var (
	configPath string
	outputDir  string
	indexNames []string
)

// NewRootCmd creates the root command for the metricbench CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metricbench [datasets...]",
		Short: "Benchmark metric-space similarity search indexes",
		Long: `metricbench drives a benchmark harness over a catalog of metric-space
similarity search indexes (MM tree variants and paged SM variants),
answering range queries (MRQ) and k-nearest-neighbor queries (MkNN)
against named datasets.

Positional arguments name which datasets to run; if none are given,
the names configured under datasets.names are run, or a built-in list
when that is empty. Each name is resolved to a file under datasets.dir.`,
		Version:      version.Version,
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, args)
		},
	}

	cmd.SetVersionTemplate("metricbench version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default: metricbench.yaml in the project root found from the current directory)")
	cmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "override the results/ and <index>_indexes/ output directory")
	cmd.PersistentFlags().StringSliceVar(&indexNames, "indexes", nil, "restrict the index catalog to these names (comma-separated, e.g. bkt,gnat,mtree)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// Command metricbench runs the similarity-search index benchmark
// harness: for each named dataset, it builds every configured MM/SM
// index and sweeps the MRQ/MkNN query workloads against it.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/metricbench/cmd/metricbench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "metricbench:", err)
		os.Exit(1)
	}
}

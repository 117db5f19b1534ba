// Package logging provides file-based JSON logging with size rotation for
// the benchmark harness. The harness writes its log to
// ~/.metricbench/logs/harness.log (or the configured logging.file) and
// also to stderr on every run; there is no flag that turns it on or off.
package logging

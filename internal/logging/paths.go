package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.metricbench/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".metricbench", "logs")
	}
	return filepath.Join(home, ".metricbench", "logs")
}

// DefaultLogPath returns the default harness log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "harness.log")
}

// WorkerLogPath returns the log path for an individual benchmark worker.
func WorkerLogPath(workerID int) string {
	return filepath.Join(DefaultLogDir(), fmt.Sprintf("worker-%d.log", workerID))
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceHarness is the main harness log (default).
	LogSourceHarness LogSource = "harness"
	// LogSourceWorker is a per-worker build/query log.
	LogSourceWorker LogSource = "worker"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
//  1. Explicit path (if provided)
//  2. ~/.metricbench/logs/harness.log (default)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	defaultPath := DefaultLogPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, nil
	}

	return "", fmt.Errorf("no log file found. Run the harness (metricbench [datasets...]) first.\nExpected at: %s", defaultPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	matches, err := filepath.Glob(filepath.Join(DefaultLogDir(), "worker-*.log"))
	if err != nil {
		matches = nil
	}

	switch source {
	case LogSourceHarness:
		harnessPath := DefaultLogPath()
		checked = append(checked, harnessPath)
		if _, err := os.Stat(harnessPath); err == nil {
			paths = append(paths, harnessPath)
		}

	case LogSourceWorker:
		checked = append(checked, matches...)
		paths = append(paths, matches...)

	case LogSourceAll:
		harnessPath := DefaultLogPath()
		checked = append(checked, harnessPath)
		checked = append(checked, matches...)
		if _, err := os.Stat(harnessPath); err == nil {
			paths = append(paths, harnessPath)
		}
		paths = append(paths, matches...)

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: harness, worker, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "worker":
		return LogSourceWorker
	case "all":
		return LogSourceAll
	default:
		return LogSourceHarness
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceHarness:
		return "To generate harness logs:\n  metricbench [datasets...]"
	case LogSourceWorker:
		return "The harness writes only harness.log; worker-*.log files are not produced by metricbench."
	case LogSourceAll:
		return "To generate logs:\n  metricbench [datasets...]"
	default:
		return ""
	}
}

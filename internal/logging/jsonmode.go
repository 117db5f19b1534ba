package logging

import (
	"log/slog"
)

// SetupJSONMode initializes logging for harness runs that stream JSON
// records to stdout. This is critical for keeping the result stream
// machine-parseable:
//   - Logs ONLY to file (never stdout/stderr)
//   - Uses JSON format for structured logs
//   - Always enables debug level for complete diagnostics
//
// Any writes to stdout/stderr while JSON records are being emitted
// would interleave with the result stream and break downstream parsers.
func SetupJSONMode() (func(), error) {
	cfg := Config{
		Level:         "debug", // full diagnostics regardless of the requested level
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // never write to stderr while streaming JSON
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("json output mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}

// SetupJSONModeWithLevel initializes stdout-safe logging with a specific level.
func SetupJSONModeWithLevel(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

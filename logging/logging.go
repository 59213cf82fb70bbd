// Package logging is the cross-cutting logging concern for the pipeline: a
// single logrus.Logger configured once at startup, with the verbosity
// level driven by --verbose the way the teacher's CLI flags drive
// behaviour without changing semantics (spec.md §6).
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logger: JSON-free, timestamped text output to
// both stdout and a per-run log file under logDir, matching the on-disk
// artefact convention in spec.md §6 (./logs/january_load_simple_<ts>.log).
func New(logDir string, verbose bool) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := logrus.InfoLevel
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if logDir == "" {
		logger.SetOutput(os.Stdout)
		return logger, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	name := time.Now().Format("20060102_150405")
	f, err := os.OpenFile(filepath.Join(logDir, "january_load_simple_"+name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return logger, nil
}

// Fields is a small alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

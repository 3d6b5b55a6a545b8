// Package logging wires the simulator's loggers: slog for the simulation and
// CLI, zerolog for database, influx and dispatcher output. Both stamp records
// with the attributes of the running simulation.
package logging

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// LogFilePath builds a log file path using OS-appropriate path separators.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}

// MetricsFilePath returns the OTel metrics file kept next to a log file.
func MetricsFilePath(logPath string) string {
	return strings.TrimSuffix(logPath, ".log") + ".metrics.json"
}

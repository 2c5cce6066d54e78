package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds the log file path for one program run.
func LogFilePath(logsDir, programName string, start time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", programName, start.Format("20060102_150405")),
	)
}

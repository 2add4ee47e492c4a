package loadgen

import (
	"os"
	"path/filepath"
	"strings"
)

// LogSink persists fetched log reports for after-the-fact inspection.
type LogSink interface {
	Write(logID, text string) error
}

// FileSink writes each report to <dir>/<logID>.log, overwriting previous
// snapshots so the file always holds the latest fetch.
type FileSink struct {
	Dir string
}

func (s FileSink) Write(logID, text string) error {
	name := filepath.Base(logID)
	if !strings.HasSuffix(name, ".log") {
		name += ".log"
	}
	return os.WriteFile(filepath.Join(s.Dir, name), []byte(text), 0o644)
}

package command

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/joeycumines/goja-blocked-at/internal/logfile"
)

// newLogger builds the logger for a command run. Logs go to stderr as text,
// or as JSON lines appended to the configured log file, which is rotated by
// size. The returned close function must be called when the command is
// done.
func newLogger(st config.Settings, stderr io.Writer) (*slog.Logger, func() error, error) {
	opts := &slog.HandlerOptions{Level: st.LogLevel}

	if st.LogFile == "" {
		return slog.New(slog.NewTextHandler(stderr, opts)), func() error { return nil }, nil
	}

	f, err := logfile.Open(st.LogFile, st.LogMaxSizeMB, st.LogMaxFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", st.LogFile, err)
	}
	return slog.New(slog.NewJSONHandler(f, opts)), f.Close, nil
}

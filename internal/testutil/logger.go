package testutil

import "log/slog"

// DiscardLogger returns a logger that drops all output. Equivalent to
// log.NewNop(); provided here so tests outside internal/log avoid the
// extra import.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

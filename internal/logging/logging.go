package logging

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// New builds the process logger: tinted slog to stdout, debug level when
// verbose
func New(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
	}))
}

package xmldb

import (
	"context"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
)

// Config configures the database instance. Only Paths[0] is used at the
// moment.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked on Start.
	MinimumFreeGB uint
	// Compression of stored documents: none, zstd or xz. Empty means zstd.
	Compression string
	// KeepWhitespace retains whitespace-only text nodes on import.
	KeepWhitespace bool
	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger
	// SnapshotLogger receives the logs of the badger snapshot store. If nil,
	// a stderr logger at the level of Logger is used.
	SnapshotLogger *logrus.Logger
}

func defaultLogger() *slog.Logger { // A
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

func snapshotLogger(log *slog.Logger) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	switch {
	case log.Enabled(context.Background(), slog.LevelDebug):
		l.SetLevel(logrus.DebugLevel)
	case log.Enabled(context.Background(), slog.LevelInfo):
		l.SetLevel(logrus.InfoLevel)
	default:
		l.SetLevel(logrus.WarnLevel)
	}
	return l
}

package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogOptions controls where the process logger writes.
type LogOptions struct {
	// File enables a rotated JSON log alongside the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	NoColor    bool
}

func InitLogger(app string) zerolog.Logger {
	return InitLoggerWith(app, LogOptions{})
}

// InitLoggerWith installs the global logger; console output always, rotated file when configured.
func InitLoggerWith(app string, opts LogOptions) zerolog.Logger {
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}
	if file := strings.TrimSpace(opts.File); file != "" {
		output = zerolog.MultiLevelWriter(output, RotatingFile(file, opts))
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// RotatingFile returns a size-rotated writer for path.
func RotatingFile(path string, opts LogOptions) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: backups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/go-lynx/plughost/conf"
)

// Logger is a kratos logger over zerolog that owns its output files.
type Logger struct {
	log.Logger
	closers []io.Closer
}

// Close flushes and closes every file output.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var result *multierror.Error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	l.closers = nil
	return result.ErrorOrNil()
}

// ParseLevel maps a level name to a kratos level, info when unknown.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "fatal":
		return log.LevelFatal
	default:
		return log.LevelInfo
	}
}

// NewLogger builds the process logger from cfg: a zerolog console writer
// and, when a file path is set, a rotating lumberjack file, optionally
// batched. keyvals become default fields of every entry.
func NewLogger(cfg *conf.Log, keyvals ...any) (*Logger, error) {
	if cfg == nil {
		cfg = &conf.Log{}
	}
	var (
		writers []io.Writer
		closers []io.Closer
	)

	if cfg.GetConsoleOutput() {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339Nano,
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			},
		})
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		closers = append(closers, file)
		if cfg.BatchSize > 0 {
			bw := NewBatchWriter(file, cfg.BatchSize, time.Second)
			// the batch writer flushes into the file, so it closes first
			closers = append(closers, bw)
			writers = append(writers, bw)
		} else {
			writers = append(writers, file)
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	level := ParseLevel(cfg.Level)
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	setStackConfig(cfg.Stack, log.LevelError)

	var logger log.Logger = zerologSink{zl: zl}
	logger = log.NewFilter(logger, log.FilterLevel(level))
	if len(keyvals) > 0 {
		logger = log.With(logger, keyvals...)
	}
	return &Logger{Logger: logger, closers: closers}, nil
}

// NewWriterLogger builds a logger that writes JSON lines to w. Tests use it
// to capture output.
func NewWriterLogger(w io.Writer, level log.Level, keyvals ...any) log.Logger {
	var logger log.Logger = zerologSink{zl: zerolog.New(w)}
	logger = log.NewFilter(logger, log.FilterLevel(level))
	if len(keyvals) > 0 {
		logger = log.With(logger, keyvals...)
	}
	return logger
}

// Package log builds the host's process logger and offers package-level
// helpers for the entry point. Library packages take a kratos log.Logger
// explicitly instead of using these helpers.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

var current atomic.Pointer[log.Helper]

// SetLogger installs logger behind the package-level helpers. A nil logger
// switches them back to the stderr fallback.
func SetLogger(logger log.Logger) {
	if logger == nil {
		current.Store(nil)
		return
	}
	current.Store(log.NewHelper(logger))
}

// emit logs msg through the installed logger, or as a plain stderr line
// while none is installed.
func emit(level log.Level, msg string) {
	if h := current.Load(); h != nil {
		h.Log(level, log.DefaultMessageKey, msg)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %-5s plughost: %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"), strings.ToUpper(level.String()), msg)
}

func Debugf(format string, a ...any) { emit(log.LevelDebug, fmt.Sprintf(format, a...)) }
func Info(a ...any)                  { emit(log.LevelInfo, fmt.Sprint(a...)) }
func Infof(format string, a ...any)  { emit(log.LevelInfo, fmt.Sprintf(format, a...)) }
func Warnf(format string, a ...any)  { emit(log.LevelWarn, fmt.Sprintf(format, a...)) }
func Error(a ...any)                 { emit(log.LevelError, fmt.Sprint(a...)) }
func Errorf(format string, a ...any) { emit(log.LevelError, fmt.Sprintf(format, a...)) }

// Infow logs key/value pairs at info level.
func Infow(keyvals ...any) {
	if h := current.Load(); h != nil {
		h.Infow(keyvals...)
		return
	}
	emit(log.LevelInfo, fmt.Sprint(keyvals...))
}

package log

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/go-kratos/kratos/v2/log"
)

type stackCfg struct {
	enabled   bool
	minLevel  log.Level
	skip      int
	maxFrames int
}

var stconf atomic.Pointer[stackCfg]

// frames of these packages are logging plumbing
var stackFilter = []string{
	"github.com/go-kratos/kratos",
	"github.com/rs/zerolog",
	"github.com/go-lynx/plughost/log",
}

func getStackConfig() *stackCfg {
	if c := stconf.Load(); c != nil {
		return c
	}
	return &stackCfg{}
}

func setStackConfig(enabled bool, minLevel log.Level) {
	stconf.Store(&stackCfg{enabled: enabled, minLevel: minLevel, skip: 3, maxFrames: 32})
}

// captureStack renders the caller's stack as "func file:line" lines,
// leaving out logging frames.
func captureStack() string {
	cfg := getStackConfig()
	pcs := make([]uintptr, cfg.maxFrames)
	n := runtime.Callers(cfg.skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		fr, more := frames.Next()
		if fr.Function != "" && !hasAnyPrefix(fr.Function, stackFilter) {
			fmt.Fprintf(&b, "%s %s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

package log

import (
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

// zerologSink renders kratos key/value records as zerolog events.
type zerologSink struct {
	zl zerolog.Logger
}

func (s zerologSink) event(level log.Level) *zerolog.Event {
	switch level {
	case log.LevelDebug:
		return s.zl.Debug()
	case log.LevelInfo:
		return s.zl.Info()
	case log.LevelWarn:
		return s.zl.Warn()
	case log.LevelError:
		return s.zl.Error()
	case log.LevelFatal:
		// never zl.Fatal: exiting is the host's decision
		return s.zl.WithLevel(zerolog.FatalLevel)
	}
	return s.zl.Warn().Str("level_unknown", level.String())
}

// Log implements log.Logger. Errors go to zerolog's error field and
// fmt.Stringer values such as plugin IDs and interface keys are rendered
// as strings.
func (s zerologSink) Log(level log.Level, keyvals ...any) error {
	ev := s.event(level)
	if len(keyvals)%2 == 1 {
		keyvals = append(keyvals, "KEYVALS_UNPAIRED")
	}

	msg := ""
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		switch v := keyvals[i+1].(type) {
		case error:
			if key == "err" || key == "error" {
				ev = ev.Err(v)
			} else {
				ev = ev.AnErr(key, v)
			}
		case fmt.Stringer:
			if key == log.DefaultMessageKey {
				msg = v.String()
			} else {
				ev = ev.Stringer(key, v)
			}
		case string:
			if key == log.DefaultMessageKey {
				msg = v
			} else {
				ev = ev.Str(key, v)
			}
		default:
			if key == log.DefaultMessageKey {
				msg = fmt.Sprint(v)
			} else {
				ev = ev.Interface(key, v)
			}
		}
	}

	if sc := getStackConfig(); sc.enabled && level >= sc.minLevel {
		if st := captureStack(); st != "" {
			ev = ev.Str("stack", st)
		}
	}
	ev.Msg(msg)
	return nil
}

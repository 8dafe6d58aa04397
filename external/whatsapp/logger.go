package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow's printf-style logging into slog.
type slogLogger struct {
	l *slog.Logger
}

func newLogger(module string) waLog.Logger {
	return slogLogger{l: slog.Default().With("component", "whatsmeow", "module", module)}
}

func (s slogLogger) Debugf(msg string, args ...any) { s.log(slog.LevelDebug, msg, args...) }
func (s slogLogger) Infof(msg string, args ...any)  { s.log(slog.LevelInfo, msg, args...) }
func (s slogLogger) Warnf(msg string, args ...any)  { s.log(slog.LevelWarn, msg, args...) }
func (s slogLogger) Errorf(msg string, args ...any) { s.log(slog.LevelError, msg, args...) }

func (s slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{l: s.l.With("sub", module)}
}

func (s slogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, fmt.Sprintf(msg, args...))
}

package biocore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the runtime logging contract shared by every package.
type Logger interface {
	Trace(msg string, args ...any)
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Fatal(msg string, args ...any)
	WithContext(ctx context.Context) Logger
}

// FieldsLogger extends Logger with structured-field support.
type FieldsLogger interface {
	WithFields(map[string]any) Logger
}

// FmtLogger is the local fallback logger used when no external logger is configured.
type FmtLogger struct {
	mu     *sync.Mutex
	out    io.Writer
	ctx    context.Context
	fields map[string]any
}

// NewFmtLogger constructs a fallback logger writing to stdout when out is nil.
func NewFmtLogger(out io.Writer) *FmtLogger {
	if out == nil {
		out = os.Stdout
	}
	return &FmtLogger{mu: &sync.Mutex{}, out: out, ctx: context.Background()}
}

func (l *FmtLogger) Trace(msg string, args ...any) { l.log("TRACE", msg, args...) }
func (l *FmtLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }
func (l *FmtLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *FmtLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *FmtLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *FmtLogger) Fatal(msg string, args ...any) { l.log("FATAL", msg, args...) }

func (l *FmtLogger) WithContext(ctx context.Context) Logger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	cp := *l
	if ctx == nil {
		ctx = context.Background()
	}
	cp.ctx = ctx
	return &cp
}

// WithFields adds fields on a shallow-copy logger.
func (l *FmtLogger) WithFields(fields map[string]any) Logger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	cp := *l
	cp.fields = mergeFields(l.fields, fields)
	return &cp
}

func (l *FmtLogger) log(level, msg string, args ...any) {
	if l == nil {
		l = NewFmtLogger(nil)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	line := fmt.Sprintf("%s %-5s %s", time.Now().UTC().Format(time.RFC3339Nano), level, strings.TrimSpace(msg))
	if fields := formatFields(l.fields); fields != "" {
		line += " " + fields
	}
	if l.mu != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
	}
	fmt.Fprintln(l.out, line)
}

// GLogger adapts a go-logger logger to the Logger contract.
type GLogger struct {
	logger glog.Logger
}

// NewGLogger wraps a go-logger logger. A nil logger yields the fmt fallback.
func NewGLogger(logger glog.Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return GLogger{logger: logger}
}

// NewDefaultGLogger builds a go-logger logger writing to out at level.
func NewDefaultGLogger(out io.Writer, level string, json bool) Logger {
	if out == nil {
		out = os.Stderr
	}
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	if json {
		return NewGLogger(glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLevel(level),
			glog.WithLoggerTypeJSON(),
		))
	}
	return NewGLogger(glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(level),
	))
}

func (l GLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l GLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l GLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l GLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l GLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l GLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l GLogger) WithContext(ctx context.Context) Logger {
	return GLogger{logger: l.logger.WithContext(ctx)}
}

func (l GLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return GLogger{logger: fl.WithFields(fields)}
	}
	return l
}

// NormalizeLogger returns logger, or the fmt fallback when logger is nil.
func NormalizeLogger(logger Logger) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	return logger
}

// WithLoggerFields attaches fields when the logger supports them.
func WithLoggerFields(logger Logger, fields map[string]any) Logger {
	if logger == nil {
		return NewFmtLogger(nil)
	}
	if fl, ok := logger.(FieldsLogger); ok {
		return fl.WithFields(fields)
	}
	return logger
}

func mergeFields(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}

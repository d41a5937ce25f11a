package cron

import (
	"fmt"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// LogLevel filters what the cron loop itself logs.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel maps a logging level name to the cron loop's level.
func ParseLogLevel(name string) LogLevel {
	switch name {
	case "trace", "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "silent", "off":
		return LogLevelSilent
	}
	return LogLevelError
}

// Parser selects the accepted cron expression syntax.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(logger biocore.Logger) Option {
	return func(s *Scheduler) {
		s.logger = biocore.NormalizeLogger(logger)
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives errors from failed job runs.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// cronLogger adapts biocore.Logger to robfig/cron's logger.
type cronLogger struct {
	logger biocore.Logger
	level  LogLevel
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if l.level >= LogLevelDebug {
		l.logger.Debug("cron: %s %v", msg, keysAndValues)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s %v: %s", msg, keysAndValues, fmt.Sprint(err))
	}
}

// Package logging adapts zerolog to the logger interfaces of third party libraries.
package logging

import (
	pionlogging "github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionLoggerFactory builds pion leveled loggers on top of a zerolog logger.
// Every scope pion asks for gets its own "scope" field.
type PionLoggerFactory struct {
	Logger zerolog.Logger
}

// NewPionLoggerFactory returns a factory logging through logger.
func NewPionLoggerFactory(logger *zerolog.Logger) *PionLoggerFactory {
	return &PionLoggerFactory{Logger: *logger}
}

var _ pionlogging.LoggerFactory = (*PionLoggerFactory)(nil)

func (f *PionLoggerFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	l := f.Logger.With().Str("scope", scope).Logger()
	return &pionLogger{logger: l}
}

type pionLogger struct {
	logger zerolog.Logger
}

func (l *pionLogger) Trace(msg string) { l.logger.Trace().Msg(msg) }

func (l *pionLogger) Tracef(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

func (l *pionLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }

func (l *pionLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *pionLogger) Info(msg string) { l.logger.Info().Msg(msg) }

func (l *pionLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *pionLogger) Warn(msg string) { l.logger.Warn().Msg(msg) }

func (l *pionLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *pionLogger) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *pionLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

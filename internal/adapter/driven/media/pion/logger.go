package pion

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logging into zerolog. pion is chatty
// at info level, so its messages are demoted by one level.
type LoggerFactory struct {
	Logger zerolog.Logger
}

var _ logging.LoggerFactory = LoggerFactory{}

func NewLoggerFactory() LoggerFactory {
	return LoggerFactory{Logger: log.Logger}
}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{l: f.Logger.With().Str("pion", scope).Logger()}
}

type leveledLogger struct {
	l zerolog.Logger
}

func (p leveledLogger) Trace(msg string)                          { p.l.Trace().Msg(msg) }
func (p leveledLogger) Tracef(format string, args ...interface{}) { p.l.Trace().Msg(fmt.Sprintf(format, args...)) }
func (p leveledLogger) Debug(msg string)                          { p.l.Trace().Msg(msg) }
func (p leveledLogger) Debugf(format string, args ...interface{}) { p.l.Trace().Msg(fmt.Sprintf(format, args...)) }
func (p leveledLogger) Info(msg string)                           { p.l.Debug().Msg(msg) }
func (p leveledLogger) Infof(format string, args ...interface{})  { p.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (p leveledLogger) Warn(msg string)                           { p.l.Warn().Msg(msg) }
func (p leveledLogger) Warnf(format string, args ...interface{})  { p.l.Warn().Msg(fmt.Sprintf(format, args...)) }
func (p leveledLogger) Error(msg string)                          { p.l.Error().Msg(msg) }
func (p leveledLogger) Errorf(format string, args ...interface{}) { p.l.Error().Msg(fmt.Sprintf(format, args...)) }

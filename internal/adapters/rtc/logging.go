package rtc

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pion is chatty below warn; its debug and info are demoted by one level.
type pionLogger struct {
	logger zerolog.Logger
}

type loggerFactory struct{}

// NewLoggerFactory routes pion's internal logging through the global zerolog logger.
func NewLoggerFactory() logging.LoggerFactory { return loggerFactory{} }

func (loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{logger: log.With().Str("module", "pion").Str("scope", scope).Logger()}
}

func (l pionLogger) Trace(msg string)                  { l.logger.Trace().Msg(msg) }
func (l pionLogger) Tracef(format string, args ...any) { l.logger.Trace().Msgf(format, args...) }
func (l pionLogger) Debug(msg string)                  { l.logger.Trace().Msg(msg) }
func (l pionLogger) Debugf(format string, args ...any) { l.logger.Trace().Msgf(format, args...) }
func (l pionLogger) Info(msg string)                   { l.logger.Debug().Msg(msg) }
func (l pionLogger) Infof(format string, args ...any)  { l.logger.Debug().Msgf(format, args...) }
func (l pionLogger) Warn(msg string)                   { l.logger.Warn().Msg(msg) }
func (l pionLogger) Warnf(format string, args ...any)  { l.logger.Warn().Msgf(format, args...) }
func (l pionLogger) Error(msg string)                  { l.logger.Error().Msg(msg) }
func (l pionLogger) Errorf(format string, args ...any) { l.logger.Error().Msgf(format, args...) }

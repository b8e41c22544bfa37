package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
)

// GormLogger routes GORM output through zerolog.
type GormLogger struct {
	log           zerolog.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger logs warnings and errors by default.
func NewGormLogger(l zerolog.Logger) *GormLogger {
	return &GormLogger{
		log:           l.With().Str("component", "store").Logger(),
		LogLevel:      logger.Warn,
		SlowThreshold: time.Second,
	}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.log.Info().Interface("data", data).Msg(msg)
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.log.Warn().Interface("data", data).Msg(msg)
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.log.Error().Interface("data", data).Msg(msg)
	}
}

// Trace logs failed and slow statements, and every statement at Info.
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.LogLevel >= logger.Error:
		sql, rows := fc()
		l.log.Error().Err(err).Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("SQL failed")
	case elapsed > l.SlowThreshold && l.LogLevel >= logger.Warn:
		sql, rows := fc()
		l.log.Warn().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("🐢 Slow SQL")
	case l.LogLevel == logger.Info:
		sql, rows := fc()
		l.log.Debug().Str("sql", sql).Int64("rows", rows).Dur("elapsed", elapsed).Msg("SQL")
	}
}

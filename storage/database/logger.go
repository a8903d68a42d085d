package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kdance/registration/core"
)

var slowQueryThreshold = 200 * time.Millisecond

// GormLogger sends the gorm logs to the app logger.
type GormLogger struct {
	logger core.Logger
	level  gormlogger.LogLevel
}

var _ gormlogger.Interface = (*GormLogger)(nil)

// NewGormLogger logs every query in debug mode, and only the slow ones and the errors otherwise.
func NewGormLogger(logger core.Logger, debug bool) *GormLogger {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return &GormLogger{logger: logger, level: level}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	nl := *l
	nl.level = level
	return &nl
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error(fmt.Sprintf("query failed [%s] [rows:%d] %s", elapsed, rows, sql), err)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn(fmt.Sprintf("slow query [%s >= %s] [rows:%d] %s", elapsed, slowQueryThreshold, rows, sql))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug(fmt.Sprintf("[%s] [rows:%d] %s", elapsed, rows, sql))
	}
}

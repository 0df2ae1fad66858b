// Package db 提供 GORM 初始化、连接池配置与事务助手
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wyfcoding/corebanking/pkg/logger"
)

// Config 数据库配置
type Config struct {
	Driver             string
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    int
	LogEnabled         bool
	SlowQueryThreshold int
}

// DB 数据库实例包装
type DB struct {
	*gorm.DB
}

// Init 初始化数据库连接
func Init(cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(cfg.LogEnabled, time.Duration(cfg.SlowQueryThreshold)*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := sqlDB.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(context.Background(), "database connected", "driver", cfg.Driver)
	return &DB{DB: gdb}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx 在事务中执行函数，出错自动回滚
func (d *DB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := d.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// gormLogger 将 GORM 日志桥接到 slog
type gormLoggerImpl struct {
	enabled       bool
	slowThreshold time.Duration
}

func newGormLogger(enabled bool, slowThreshold time.Duration) gormlogger.Interface {
	return &gormLoggerImpl{enabled: enabled, slowThreshold: slowThreshold}
}

func (l *gormLoggerImpl) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *gormLoggerImpl) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled {
		logger.Info(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLoggerImpl) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled {
		logger.Warn(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLoggerImpl) Error(ctx context.Context, msg string, data ...interface{}) {
	logger.Error(ctx, fmt.Sprintf(msg, data...))
}

func (l *gormLoggerImpl) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	if err != nil && err != gorm.ErrRecordNotFound {
		sql, rows := fc()
		logger.Error(ctx, "sql error", "sql", sql, "rows", rows, "error", err)
		return
	}
	if l.slowThreshold > 0 && elapsed > l.slowThreshold {
		sql, rows := fc()
		logger.Warn(ctx, "slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}

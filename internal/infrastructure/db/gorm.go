package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Pool bounds the journal's connection pool.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// poolFor sizes the pool per dialect. A sqlite file (or :memory: database)
// only tolerates one writer, and a second connection to :memory: would see an
// empty database.
func poolFor(dialect string) Pool {
	if dialect == "sqlite" {
		return Pool{MaxOpen: 1, MaxIdle: 1}
	}
	return Pool{
		MaxOpen:     30,
		MaxIdle:     10,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 10 * time.Minute,
	}
}

// GormLogLevel maps the service log level onto gorm's. Gorm's info level logs
// every statement, so only debug turns it on.
func GormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.Info
	case "error":
		return logger.Error
	case "silent", "off":
		return logger.Silent
	}
	return logger.Warn
}

// OpenGorm opens the journal database. driver is "mysql" or "sqlite"; for
// sqlite the dsn is a file path or ":memory:".
func OpenGorm(driver, dsn, logLevel string) (*gorm.DB, error) {
	var d gorm.Dialector
	switch driver {
	case "mysql":
		d = mysql.Open(dsn)
	case "sqlite":
		d = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", driver)
	}
	return OpenGormWithDialector(d, GormLogLevel(logLevel))
}

func OpenGormWithDialector(d gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:               logger.Default.LogMode(level),
		DisableAutomaticPing: true,
	}
	db, err := gorm.Open(d, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	p := poolFor(d.Name())
	sqlDB.SetMaxOpenConns(p.MaxOpen)
	sqlDB.SetMaxIdleConns(p.MaxIdle)
	sqlDB.SetConnMaxLifetime(p.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(p.MaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}
	log.Printf("gorm: connected (%s, max_open=%d)", d.Name(), p.MaxOpen)
	return db, nil
}

// Migrate creates or updates the tables for models.
func Migrate(db *gorm.DB, models ...any) error {
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

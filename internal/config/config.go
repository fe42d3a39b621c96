package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	// JournalDriver is "mysql", "sqlite" or "none".
	JournalDriver string
	SQLitePath    string

	MySQLHost string
	MySQLPort string
	MySQLDB   string
	MySQLUser string
	MySQLPass string

	RedisAddr string
	RedisDB   int

	IdempTTLSecs       int
	ReputationCacheTTL time.Duration

	// LedgerDriver is "evm" or "memory".
	LedgerDriver      string
	LedgerRPCURL      string
	LedgerContract    string
	LedgerStartBlock  uint64
	LedgerRPS         float64
	EventPollInterval time.Duration

	PollInterval       time.Duration
	PendingMaxAttempts int
	PendingBackoff     time.Duration
	QueueSize          int
	SpeculativeTTL     time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("JOURNAL_DRIVER", "mysql")
	v.SetDefault("SQLITE_PATH", "ledger.db")
	v.SetDefault("MYSQL_HOST", "mysql")
	v.SetDefault("MYSQL_PORT", "3306")
	v.SetDefault("MYSQL_DB", "lending")
	v.SetDefault("MYSQL_USER", "lending")
	v.SetDefault("MYSQL_PASS", "lending")

	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDEMPOTENCY_TTL_SECONDS", 300)
	v.SetDefault("REPUTATION_CACHE_TTL", "1m")

	v.SetDefault("LEDGER_DRIVER", "evm")
	v.SetDefault("LEDGER_RPC_URL", "http://localhost:8545")
	v.SetDefault("LEDGER_CONTRACT", "")
	v.SetDefault("LEDGER_START_BLOCK", 0)
	v.SetDefault("LEDGER_RPS", 20)
	v.SetDefault("EVENT_POLL_INTERVAL", "2s")

	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("PENDING_MAX_ATTEMPTS", 6)
	v.SetDefault("PENDING_BACKOFF", "2s")
	v.SetDefault("QUEUE_SIZE", 1024)
	v.SetDefault("SPECULATIVE_TTL", "10m")
}

// Load reads the environment, optionally layered over the file named by
// CONFIG_FILE. A .env file in the working directory fills variables that are
// not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if f := os.Getenv("CONFIG_FILE"); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", f, err)
		}
	}

	return &Config{
		AppPort:  v.GetString("APP_PORT"),
		AppEnv:   v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),

		JournalDriver: v.GetString("JOURNAL_DRIVER"),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		MySQLHost:     v.GetString("MYSQL_HOST"),
		MySQLPort:     v.GetString("MYSQL_PORT"),
		MySQLDB:       v.GetString("MYSQL_DB"),
		MySQLUser:     v.GetString("MYSQL_USER"),
		MySQLPass:     v.GetString("MYSQL_PASS"),

		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisDB:            v.GetInt("REDIS_DB"),
		IdempTTLSecs:       v.GetInt("IDEMPOTENCY_TTL_SECONDS"),
		ReputationCacheTTL: v.GetDuration("REPUTATION_CACHE_TTL"),

		LedgerDriver:      v.GetString("LEDGER_DRIVER"),
		LedgerRPCURL:      v.GetString("LEDGER_RPC_URL"),
		LedgerContract:    v.GetString("LEDGER_CONTRACT"),
		LedgerStartBlock:  v.GetUint64("LEDGER_START_BLOCK"),
		LedgerRPS:         v.GetFloat64("LEDGER_RPS"),
		EventPollInterval: v.GetDuration("EVENT_POLL_INTERVAL"),

		PollInterval:       v.GetDuration("POLL_INTERVAL"),
		PendingMaxAttempts: v.GetInt("PENDING_MAX_ATTEMPTS"),
		PendingBackoff:     v.GetDuration("PENDING_BACKOFF"),
		QueueSize:          v.GetInt("QUEUE_SIZE"),
		SpeculativeTTL:     v.GetDuration("SPECULATIVE_TTL"),
	}, nil
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	switch c.JournalDriver {
	case "mysql":
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	case "none":
	default:
		return fmt.Errorf("unknown JOURNAL_DRIVER %q", c.JournalDriver)
	}
	switch c.LedgerDriver {
	case "evm":
		if c.LedgerRPCURL == "" || c.LedgerContract == "" {
			return errors.New("missing ledger config (LEDGER_RPC_URL/LEDGER_CONTRACT)")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	if c.LedgerRPS <= 0 {
		return fmt.Errorf("LEDGER_RPS must be positive, got %v", c.LedgerRPS)
	}
	if c.PollInterval <= 0 || c.PendingBackoff <= 0 {
		return errors.New("POLL_INTERVAL and PENDING_BACKOFF must be positive")
	}
	if c.PendingMaxAttempts <= 0 || c.QueueSize <= 0 {
		return errors.New("PENDING_MAX_ATTEMPTS and QUEUE_SIZE must be positive")
	}
	return nil
}

// JournalDSN is the dsn handed to db.OpenGorm for the configured driver.
func (c *Config) JournalDSN() string {
	if c.JournalDriver == "sqlite" {
		return c.SQLitePath
	}
	return c.MySQLDSN()
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// multiStatements=true is handy for migrations; parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DBDriver        string
	DBDSN           string
	RedisAddr       string
	RedisPassword   string
	KafkaBrokers    string
	KafkaTopic      string
	Tier            string
	BlobCompression string
	FilterCacheSize int
	TermCacheSize   int
	AuditPoll       time.Duration
	AuditTimeout    time.Duration
	ReindexSchedule string
	ReindexDocTypes []string
	CacheSchedule   string
	LogLevel        string
	LogFormat       string
}

// LoadConfig reads .env (when present) and the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to load .env: %v", err)
	}

	cfg := &Config{
		DBDriver:        envOrDefault("DB_DRIVER", "sqlite"),
		DBDSN:           envOrDefault("DB_DSN", "cdr.db"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:    os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:      envOrDefault("KAFKA_TOPIC", "cdr.documents"),
		Tier:            envOrDefault("CDR_TIER", "DEV"),
		BlobCompression: envOrDefault("BLOB_COMPRESSION", "nop"),
		FilterCacheSize: envInt("FILTER_CACHE_SIZE", 1024),
		TermCacheSize:   envInt("TERM_CACHE_SIZE", 4096),
		AuditPoll:       envDuration("AUDIT_POLL_INTERVAL", 100*time.Millisecond),
		AuditTimeout:    envDuration("AUDIT_WAIT_TIMEOUT", 5*time.Second),
		ReindexSchedule: envOrDefault("REINDEX_SCHEDULE", "@daily"),
		CacheSchedule:   envOrDefault("CACHE_SYNC_SCHEDULE", "@every 10m"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "text"),
	}
	if v := os.Getenv("REINDEX_DOCTYPES"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.ReindexDocTypes = append(cfg.ReindexDocTypes, name)
			}
		}
	}

	SetupLogging(cfg)

	return cfg
}

// SetupLogging applies the configured level and format to the standard
// logrus logger.
func SetupLogging(cfg *Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("unknown log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// GetDb opens the configured database. It panics when the connection
// cannot be made.
func GetDb(cfg *Config) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DBDSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		logrus.Fatalf("unsupported database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	return db
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

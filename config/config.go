package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	App      AppConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	URL      string
	Username string
	Password string
}

type StorageConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // non-empty for S3-compatible stores (minio etc.)
	AccessKey string
	SecretKey string
}

// PipelineConfig controls the ingestion worker pool. Concurrency and the
// memory watchdog are profile-dependent: production gets a larger share of
// the host CPUs and a higher memory ceiling than development.
type PipelineConfig struct {
	ConcurrencyOverride int   // 0 means derive from CPU count
	MaxUploadBytes      int64 // per-file upload ceiling
	TempDir             string
	ConverterBin        string // external ifc converter binary

	WatchdogIntervalSec int
	WatchdogCeilingMB   int

	SingleRetentionMin int // minutes a terminal single-file job stays queryable
	MultiRetentionMin  int // minutes a terminal multi-file job stays queryable
}

type AppConfig struct {
	Environment string
	LogLevel    string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_READ_TIMEOUT", 120)
	viper.SetDefault("SERVER_WRITE_TIMEOUT", 120)
	viper.SetDefault("SERVER_IDLE_TIMEOUT", 60)

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "bimhub")
	viper.SetDefault("DB_PASSWORD", "")
	viper.SetDefault("DB_NAME", "bimhub")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("REDIS_URL", "")
	viper.SetDefault("REDIS_USERNAME", "")
	viper.SetDefault("REDIS_PASSWORD", "")

	viper.SetDefault("STORAGE_BUCKET", "bimhub-models")
	viper.SetDefault("STORAGE_REGION", "us-east-1")
	viper.SetDefault("STORAGE_ENDPOINT", "")
	viper.SetDefault("STORAGE_ACCESS_KEY", "")
	viper.SetDefault("STORAGE_SECRET_KEY", "")

	viper.SetDefault("PIPELINE_CONCURRENCY", 0)
	viper.SetDefault("PIPELINE_MAX_UPLOAD_MB", 2048)
	viper.SetDefault("PIPELINE_TEMP_DIR", "")
	viper.SetDefault("PIPELINE_CONVERTER_BIN", "ifc-convert")
	viper.SetDefault("PIPELINE_WATCHDOG_INTERVAL", 0) // 0: profile default
	viper.SetDefault("PIPELINE_WATCHDOG_CEILING_MB", 0)
	viper.SetDefault("PIPELINE_SINGLE_RETENTION_MIN", 10)
	viper.SetDefault("PIPELINE_MULTI_RETENTION_MIN", 30)

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")

	return &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			ReadTimeout:  viper.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout: viper.GetInt("SERVER_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetInt("SERVER_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			URL:      viper.GetString("REDIS_URL"),
			Username: viper.GetString("REDIS_USERNAME"),
			Password: viper.GetString("REDIS_PASSWORD"),
		},
		Storage: StorageConfig{
			Bucket:    viper.GetString("STORAGE_BUCKET"),
			Region:    viper.GetString("STORAGE_REGION"),
			Endpoint:  viper.GetString("STORAGE_ENDPOINT"),
			AccessKey: viper.GetString("STORAGE_ACCESS_KEY"),
			SecretKey: viper.GetString("STORAGE_SECRET_KEY"),
		},
		Pipeline: PipelineConfig{
			ConcurrencyOverride: viper.GetInt("PIPELINE_CONCURRENCY"),
			MaxUploadBytes:      viper.GetInt64("PIPELINE_MAX_UPLOAD_MB") * 1024 * 1024,
			TempDir:             viper.GetString("PIPELINE_TEMP_DIR"),
			ConverterBin:        viper.GetString("PIPELINE_CONVERTER_BIN"),
			WatchdogIntervalSec: viper.GetInt("PIPELINE_WATCHDOG_INTERVAL"),
			WatchdogCeilingMB:   viper.GetInt("PIPELINE_WATCHDOG_CEILING_MB"),
			SingleRetentionMin:  viper.GetInt("PIPELINE_SINGLE_RETENTION_MIN"),
			MultiRetentionMin:   viper.GetInt("PIPELINE_MULTI_RETENTION_MIN"),
		},
		App: AppConfig{
			Environment: viper.GetString("APP_ENV"),
			LogLevel:    viper.GetString("LOG_LEVEL"),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// MaxConcurrency resolves the worker pool ceiling once at startup. An explicit
// override wins; otherwise production takes half the CPUs capped at 8 while
// development takes a quarter capped at 2. Always at least 1. This bound is
// what keeps peak resident memory from concurrent conversions in check.
func (c *Config) MaxConcurrency() int {
	if c.Pipeline.ConcurrencyOverride > 0 {
		return c.Pipeline.ConcurrencyOverride
	}
	cpus := runtime.NumCPU()
	var n, ceiling int
	if c.IsProduction() {
		n, ceiling = cpus/2, 8
	} else {
		n, ceiling = cpus/4, 2
	}
	if n < 1 {
		n = 1
	}
	if n > ceiling {
		n = ceiling
	}
	return n
}

// WatchdogInterval is how often an execution unit self-checks resident memory.
func (c *Config) WatchdogInterval() time.Duration {
	if c.Pipeline.WatchdogIntervalSec > 0 {
		return time.Duration(c.Pipeline.WatchdogIntervalSec) * time.Second
	}
	if c.IsProduction() {
		return 30 * time.Second
	}
	return 10 * time.Second
}

// WatchdogCeilingBytes is the per-unit resident memory ceiling.
func (c *Config) WatchdogCeilingBytes() uint64 {
	if c.Pipeline.WatchdogCeilingMB > 0 {
		return uint64(c.Pipeline.WatchdogCeilingMB) * 1024 * 1024
	}
	if c.IsProduction() {
		return 6 << 30
	}
	return 2 << 30
}

func (c *Config) SingleRetention() time.Duration {
	return time.Duration(c.Pipeline.SingleRetentionMin) * time.Minute
}

func (c *Config) MultiRetention() time.Duration {
	return time.Duration(c.Pipeline.MultiRetentionMin) * time.Minute
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

var ErrMissingDatabaseCredentials = errors.New("missing required database credentials (username, password, name)")

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	FleetAPI FleetAPIConfig `yaml:"fleet_api"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
	Backup   BackupConfig   `yaml:"backup"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"name"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxConns        int32  `yaml:"max_conns"`
	MinConns        int32  `yaml:"min_conns"`
	StartupAttempts int    `yaml:"startup_attempts"`
	// ReadonlyUser, when set, gets a SELECT-only role on vehicle_status.
	ReadonlyUser     string `yaml:"readonly_user"`
	ReadonlyPassword string `yaml:"readonly_password"`
}

// DSN returns a postgres:// connection URL. Credentials are escaped.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.Username, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.DBName,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}

type FleetAPIConfig struct {
	BaseURL               string `yaml:"base_url"`
	Mode                  string `yaml:"mode"` // "winfleet" | "fake"
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	Timezone              string `yaml:"timezone"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	UserAgent             string `yaml:"user_agent"`
	FakeFleetSize         int    `yaml:"fake_fleet_size"`
}

type WorkerConfig struct {
	FetchIntervalSeconds     int    `yaml:"fetch_interval_seconds"`
	MaxAttempts              int    `yaml:"max_attempts"`
	BackoffBaseSeconds       int    `yaml:"backoff_base_seconds"`
	RateLimitPerMinute       int    `yaml:"rate_limit_per_minute"`
	MinRequestGapSeconds     int    `yaml:"min_request_gap_seconds"`
	HTTPAddr                 string `yaml:"http_addr"`
	PartitionIntervalHours   int    `yaml:"partition_interval_hours"`
	MaintenanceIntervalHours int    `yaml:"maintenance_interval_hours"`
	LogCleanupIntervalHours  int    `yaml:"log_cleanup_interval_hours"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // "json" | "console"
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxBackups    int    `yaml:"max_backups"`
}

type BackupConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Dir           string   `yaml:"dir"`
	IntervalHours int      `yaml:"interval_hours"`
	KeepDaily     int      `yaml:"keep_daily"`
	KeepWeekly    int      `yaml:"keep_weekly"`
	KeepMonthly   int      `yaml:"keep_monthly"`
	MaxAgeHours   int      `yaml:"max_age_hours"`
	PgDumpBinary  string   `yaml:"pg_dump_binary"`
	S3            S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
}

type RedisConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	LastRunKey      string `yaml:"last_run_key"`
	LastRunTTLHours int    `yaml:"last_run_ttl_hours"`
}

func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	IngestionTopicName string `yaml:"ingestion_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	if k.Host == "" {
		return nil
	}
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnv(os.Getenv)
	config.applyDefaults()
	return &config, nil
}

// applyEnv overrides file values with the collector's environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, err := strconv.Atoi(strings.TrimSpace(getenv(name))); err == nil {
			*dst = v
		}
	}

	str("POSTGRES_HOST", &c.Database.Host)
	num("POSTGRES_PORT", &c.Database.Port)
	str("POSTGRES_USER", &c.Database.Username)
	str("POSTGRES_PASSWORD", &c.Database.Password)
	str("POSTGRES_DB", &c.Database.DBName)
	str("POSTGRES_READONLY_USER", &c.Database.ReadonlyUser)
	str("POSTGRES_READONLY_PASSWORD", &c.Database.ReadonlyPassword)

	str("API_BASE_URL", &c.FleetAPI.BaseURL)
	str("API_USERNAME", &c.FleetAPI.Username)
	str("API_PASSWORD", &c.FleetAPI.Password)

	num("FETCH_INTERVAL", &c.Worker.FetchIntervalSeconds)
	if port := strings.TrimSpace(getenv("API_PORT")); port != "" {
		c.Worker.HTTPAddr = ":" + port
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port <= 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns <= 0 || c.Database.MaxConns > 10 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns <= 0 {
		c.Database.MinConns = 1
	}
	if c.Database.StartupAttempts <= 0 {
		c.Database.StartupAttempts = 30
	}

	if c.FleetAPI.BaseURL == "" {
		c.FleetAPI.BaseURL = "https://api.winfleet.lu"
	}
	if c.FleetAPI.Mode == "" {
		c.FleetAPI.Mode = "winfleet"
	}
	if c.FleetAPI.Timezone == "" {
		c.FleetAPI.Timezone = "UTC"
	}
	if c.FleetAPI.RequestTimeoutSeconds <= 0 {
		c.FleetAPI.RequestTimeoutSeconds = 30
	}
	if c.FleetAPI.UserAgent == "" {
		c.FleetAPI.UserAgent = "DataCollector/1.0"
	}

	w := &c.Worker
	if w.FetchIntervalSeconds <= 0 {
		w.FetchIntervalSeconds = 60
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = 3
	}
	if w.BackoffBaseSeconds <= 0 {
		w.BackoffBaseSeconds = 1
	}
	if w.RateLimitPerMinute <= 0 {
		w.RateLimitPerMinute = 4
	}
	if w.MinRequestGapSeconds <= 0 {
		w.MinRequestGapSeconds = 15
	}
	if w.HTTPAddr == "" {
		w.HTTPAddr = ":8000"
	}
	if w.PartitionIntervalHours <= 0 {
		w.PartitionIntervalHours = 168
	}
	if w.MaintenanceIntervalHours <= 0 {
		w.MaintenanceIntervalHours = 168
	}
	if w.LogCleanupIntervalHours <= 0 {
		w.LogCleanupIntervalHours = 24
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = 30
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 10
	}

	b := &c.Backup
	if b.Dir == "" {
		b.Dir = "backups"
	}
	if b.IntervalHours <= 0 {
		b.IntervalHours = 24
	}
	if b.MaxAgeHours <= 0 {
		b.MaxAgeHours = 48
	}

	if c.Redis.Host != "" && c.Redis.Port <= 0 {
		c.Redis.Port = 6379
	}
	if c.Kafka.Host != "" && c.Kafka.Port <= 0 {
		c.Kafka.Port = 9092
	}
}

// Validate reports configuration the worker cannot start with.
func (c *Config) Validate() error {
	if c.Database.Username == "" || c.Database.Password == "" || c.Database.DBName == "" {
		return ErrMissingDatabaseCredentials
	}
	if c.Database.ReadonlyUser != "" && c.Database.ReadonlyPassword == "" {
		return errors.New("database.readonly_password is required with readonly_user")
	}
	if c.FleetAPI.Mode != "winfleet" && c.FleetAPI.Mode != "fake" {
		return errors.Errorf("unknown fleet_api.mode %q", c.FleetAPI.Mode)
	}
	if _, err := time.LoadLocation(c.FleetAPI.Timezone); err != nil {
		return errors.Wrap(err, "fleet_api.timezone")
	}
	return nil
}

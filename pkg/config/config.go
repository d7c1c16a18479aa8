// Package config loads and validates the webhook service configuration from
// YAML files with environment-variable overrides. In development mode a local
// .env file is loaded first so the legacy deployment variables (SOURCE,
// TARGET, ALIAS, TOKEN, PORT) keep working unchanged.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Partial indexing failure policies.
const (
	PolicyLog   = "log"
	PolicyAbort = "abort"
)

// dotEnvFile is read in development mode before any other source.
const dotEnvFile = ".env"

// Config is the top-level application configuration.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Source        SourceConfig        `yaml:"source"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Rebuild       RebuildConfig       `yaml:"rebuild"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SourceConfig describes where the dataset lives and how it is wrapped.
type SourceConfig struct {
	URL     string        `yaml:"url"`
	Prefix  string        `yaml:"prefix"`
	Suffix  string        `yaml:"suffix"`
	Timeout time.Duration `yaml:"timeout"`
}

// ElasticsearchConfig holds the search backend connection and the alias the
// rebuild pipeline maintains.
type ElasticsearchConfig struct {
	Addresses       []string      `yaml:"addresses"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Alias           string        `yaml:"alias"`
	PingTimeout     time.Duration `yaml:"pingTimeout"`
	CollectionField string        `yaml:"collectionField"`
	Refresh         bool          `yaml:"refresh"`
}

// WebhookConfig controls trigger authentication and throttling.
type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signatureHeader"`
	MaxBodyBytes    int64  `yaml:"maxBodyBytes"`
	RatePerMinute   int    `yaml:"ratePerMinute"`
	Burst           int    `yaml:"burst"`
}

// RebuildConfig controls run-level policies.
type RebuildConfig struct {
	PartialFailurePolicy string        `yaml:"partialFailurePolicy"`
	SweepOrphans         bool          `yaml:"sweepOrphans"`
	HistorySize          int           `yaml:"historySize"`
	LockTTL              time.Duration `yaml:"lockTTL"`
}

// RedisConfig holds Redis connection parameters used for the distributed run
// lock.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"poolSize"`
	LockKeyPrefix string `yaml:"lockKeyPrefix"`
}

// PostgresConfig holds PostgreSQL connection parameters for run history.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings. An empty
// topic disables the corresponding producer or consumer.
type KafkaTopics struct {
	RebuildRequested  string `yaml:"rebuildRequested"`
	GenerationSwapped string `yaml:"generationSwapped"`
}

// ArchiveConfig holds the S3-compatible object store used to keep a copy of
// every fetched source payload.
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"accessKey"`
	SecretKey string        `yaml:"secretKey"`
	Bucket    string        `yaml:"bucket"`
	Region    string        `yaml:"region"`
	UseSSL    bool          `yaml:"useSSL"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "" || c.Environment == EnvDevelopment
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. In development mode the .env file of the
// working directory is loaded first.
func Load(path string) (*Config, error) {
	if isDevelopmentEnv() {
		if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", dotEnvFile, err)
		}
	}
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the fields required by the rebuild pipeline and by
// every enabled integration are present.
func (c *Config) Validate() error {
	var problems []string
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		problems = append(problems, fmt.Sprintf("environment must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if strings.TrimSpace(c.Source.URL) == "" {
		problems = append(problems, "source.url is required")
	}
	if c.Source.Prefix == "" && c.Source.Suffix == "" {
		problems = append(problems, "source.prefix or source.suffix must be set")
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		problems = append(problems, "elasticsearch.addresses is required")
	}
	if strings.TrimSpace(c.Elasticsearch.Alias) == "" {
		problems = append(problems, "elasticsearch.alias is required")
	}
	switch c.Rebuild.PartialFailurePolicy {
	case PolicyLog, PolicyAbort:
	default:
		problems = append(problems, fmt.Sprintf("rebuild.partialFailurePolicy must be %q or %q", PolicyLog, PolicyAbort))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.Host == "" {
		problems = append(problems, "postgres.host is required when postgres is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required when kafka is enabled")
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		problems = append(problems, "archive.endpoint and archive.bucket are required when archive is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// defaultConfig returns a Config that runs against a local Elasticsearch and
// the public bblfr dataset.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Source: SourceConfig{
			URL:     "https://raw.githubusercontent.com/brownbaglunch/bblfr_data/gh-pages/baggers.js",
			Prefix:  "var data = ",
			Suffix:  ";",
			Timeout: 30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:       []string{"http://localhost:9200"},
			Alias:           "bblfr",
			PingTimeout:     10 * time.Second,
			CollectionField: "collection",
			Refresh:         true,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "X-Hub-Signature",
			MaxBodyBytes:    5 << 20,
			RatePerMinute:   30,
			Burst:           5,
		},
		Rebuild: RebuildConfig{
			PartialFailurePolicy: PolicyLog,
			HistorySize:          50,
			LockTTL:              10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      5,
			LockKeyPrefix: "bblfr:rebuild:",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bblfr",
			User:            "bblfr",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bblfr-webhook",
			Topics: KafkaTopics{
				RebuildRequested:  "bblfr.rebuild-requested",
				GenerationSwapped: "bblfr.generation-swapped",
			},
		},
		Archive: ArchiveConfig{
			Bucket:  "bblfr-sources",
			Region:  "us-east-1",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

func isDevelopmentEnv() bool {
	env := firstEnv("BBL_ENVIRONMENT", "NODE_ENV")
	return env == "" || env == EnvDevelopment
}

// firstEnv returns the value of the first non-empty variable among names.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// applyEnvOverrides reads BBL_* environment variables, and the legacy names of
// the original deployment, and overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("BBL_ENVIRONMENT", "NODE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := firstEnv("BBL_SERVER_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := firstEnv("BBL_SOURCE_URL", "SOURCE"); v != "" {
		cfg.Source.URL = v
	}
	if v := os.Getenv("BBL_SOURCE_PREFIX"); v != "" {
		cfg.Source.Prefix = v
	}
	if v := os.Getenv("BBL_SOURCE_SUFFIX"); v != "" {
		cfg.Source.Suffix = v
	}
	if v := firstEnv("BBL_ELASTICSEARCH_ADDRESSES", "TARGET"); v != "" {
		cfg.Elasticsearch.Addresses = splitList(v)
	}
	if v := os.Getenv("BBL_ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("BBL_ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := firstEnv("BBL_ELASTICSEARCH_ALIAS", "ALIAS"); v != "" {
		cfg.Elasticsearch.Alias = v
	}
	if v := firstEnv("BBL_WEBHOOK_SECRET", "TOKEN"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("BBL_REBUILD_PARTIAL_FAILURE_POLICY"); v != "" {
		cfg.Rebuild.PartialFailurePolicy = v
	}
	if v := os.Getenv("BBL_REBUILD_SWEEP_ORPHANS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rebuild.SweepOrphans = b
		}
	}
	if v := os.Getenv("BBL_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BBL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BBL_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Enabled = true
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BBL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BBL_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BBL_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BBL_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BBL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("BBL_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("BBL_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("BBL_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("BBL_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("BBL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BBL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("BBL_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Postgres, Kafka, Pipeline, Classifier, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings for the API service.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RedisConfig holds Redis connection parameters. Redis backs the stream
// broker, the status/result store, and the tag reverse index.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// PostgresConfig holds PostgreSQL connection parameters for the place store.
type PostgresConfig struct {
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

// KafkaConfig holds Kafka broker settings for the audit event topic.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	AuditTopic    string   `yaml:"auditTopic"`
}

// PipelineConfig controls the two-stage search pipeline: stream topic names,
// consumer group sizing, acknowledgment policy, and TTLs.
type PipelineConfig struct {
	ClassificationTopic     string        `yaml:"classificationTopic"`
	LookupTopic             string        `yaml:"lookupTopic"`
	GroupName               string        `yaml:"groupName"`
	ClassificationConsumers int           `yaml:"classificationConsumers"`
	LookupConsumers         int           `yaml:"lookupConsumers"`
	DeleteAfterAck          *bool         `yaml:"deleteAfterAck"`
	ResultTTL               time.Duration `yaml:"resultTTL"`
	BlockTimeout            time.Duration `yaml:"blockTimeout"`
	DefaultRadiusKm         float64       `yaml:"defaultRadiusKm"`
	PreferenceMaxLen        int           `yaml:"preferenceMaxLen"`
}

// DeleteRecords reports whether processed records should be removed from the
// stream after acknowledgment. Defaults to true when unset.
func (p PipelineConfig) DeleteRecords() bool {
	if p.DeleteAfterAck == nil {
		return true
	}
	return *p.DeleteAfterAck
}

// ClassifierConfig controls the external free-text classifier endpoint and
// its circuit breaker. An empty endpoint disables the remote classifier and
// the keyword fallback handles every request.
type ClassifierConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	clampPipeline(&cfg.Pipeline)
	return cfg, nil
}

// clampPipeline enforces floors on worker sizing. Every topic must have at
// least one consumer or the pipeline silently stalls on that stage.
func clampPipeline(p *PipelineConfig) {
	if p.ClassificationConsumers < 1 {
		p.ClassificationConsumers = 1
	}
	if p.LookupConsumers < 1 {
		p.LookupConsumers = 1
	}
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "placeflow",
			User:            "placeflow",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "placeflow-audit",
			AuditTopic:    "search-audit-events",
		},
		Pipeline: PipelineConfig{
			ClassificationTopic:     "classification-requests",
			LookupTopic:             "lookup-requests",
			GroupName:               "placeflow-workers",
			ClassificationConsumers: 2,
			LookupConsumers:         2,
			ResultTTL:               10 * time.Minute,
			BlockTimeout:            20 * time.Millisecond,
			DefaultRadiusKm:         5,
			PreferenceMaxLen:        100,
		},
		Classifier: ClassifierConfig{
			Endpoint:         "",
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
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

// applyEnvOverrides reads PF_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PF_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PF_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PF_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("PF_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("PF_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("PF_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("PF_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("PF_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("PF_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PF_KAFKA_AUDIT_TOPIC"); v != "" {
		cfg.Kafka.AuditTopic = v
	}
	if v := os.Getenv("PF_PIPELINE_GROUP"); v != "" {
		cfg.Pipeline.GroupName = v
	}
	if v := os.Getenv("PF_PIPELINE_CLASSIFICATION_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ClassificationConsumers = n
		}
	}
	if v := os.Getenv("PF_PIPELINE_LOOKUP_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.LookupConsumers = n
		}
	}
	if v := os.Getenv("PF_PIPELINE_RESULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.ResultTTL = d
		}
	}
	if v := os.Getenv("PF_CLASSIFIER_ENDPOINT"); v != "" {
		cfg.Classifier.Endpoint = v
	}
	if v := os.Getenv("PF_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PF_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

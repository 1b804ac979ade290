package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration, loaded once at startup.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Log     LogConfig     `yaml:"log"`
	Elastic ElasticConfig `yaml:"elastic"`
	Queue   QueueConfig   `yaml:"queue"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
}

type AppConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ElasticConfig holds the search client and index settings.
type ElasticConfig struct {
	Hosts        []string `yaml:"hosts"`
	UseBasicAuth bool     `yaml:"use_basic_auth"`
	UserName     string   `yaml:"user_name"`
	Password     string   `yaml:"password"`
	UseCaCert    bool     `yaml:"use_ca_cert"`
	CertPath     string   `yaml:"cert_path"`
	CertRoot     string   `yaml:"cert_root"`
	Async        bool     `yaml:"async"`
	Index        string   `yaml:"index"`
	Type         string   `yaml:"type"`
	DateFormat   string   `yaml:"date_format"`
	Threshold    int      `yaml:"threshold"`
	Refresh      string   `yaml:"refresh"`
	Shards       int      `yaml:"shards"`
	Replicas     int      `yaml:"replicas"`
}

// QueueConfig decides whether documents are indexed inline or handed to a worker.
type QueueConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Name       string `yaml:"name"`
	Connection string `yaml:"connection"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// DateFormat is the only index date format documents are stamped in.
const DateFormat = "yyyy-MM-dd HH:mm:ss"

// Default returns the configuration used when neither a file nor the
// environment say otherwise.
func Default() Config {
	return Config{
		App: AppConfig{Port: "8080"},
		Log: LogConfig{Level: "info", Format: "json"},
		Elastic: ElasticConfig{
			Hosts:      []string{"http://0.0.0.0:9200"},
			UserName:   "elastic",
			Index:      "laravel_auditing",
			Type:       "audits",
			DateFormat: DateFormat,
			Shards:     5,
			Replicas:   0,
		},
		Queue: QueueConfig{Name: "audits"},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "auditlog-worker",
		},
	}
}

// Load reads the optional YAML file at path and applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.App.Port = getEnv("APP_PORT", cfg.App.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	e := &cfg.Elastic
	e.Hosts = getEnvList("AUDIT_HOST", e.Hosts)
	e.UserName = getEnv("ELASTIC_AUDIT_USER", e.UserName)
	e.Password = getEnv("ELASTIC_AUDIT_PASSWORD", e.Password)
	e.CertPath = getEnv("AUDIT_CERT_PATH", e.CertPath)
	e.CertRoot = getEnv("AUDIT_CERT_ROOT", e.CertRoot)
	e.Index = getEnv("AUDIT_INDEX", e.Index)
	e.Type = getEnv("AUDIT_TYPE", e.Type)
	e.DateFormat = getEnv("AUDIT_DATE_FORMAT", e.DateFormat)
	e.Refresh = getEnv("AUDIT_REFRESH", e.Refresh)

	cfg.Queue.Name = getEnv("AUDIT_QUEUE_NAME", cfg.Queue.Name)
	cfg.Queue.Connection = getEnv("AUDIT_QUEUE_CONNECTION", cfg.Queue.Connection)
	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)
	cfg.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	var err error
	for key, dst := range map[string]*bool{
		"AUDIT_BASIC_AUTH":    &e.UseBasicAuth,
		"AUDIT_USE_CERT":      &e.UseCaCert,
		"AUDIT_ASYNC":         &e.Async,
		"AUDIT_QUEUE_ENABLED": &cfg.Queue.Enabled,
	} {
		if *dst, err = getEnvBool(key, *dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*int{
		"AUDIT_THRESHOLD": &e.Threshold,
		"AUDIT_SHARDS":    &e.Shards,
		"AUDIT_REPLICAS":  &e.Replicas,
	} {
		if *dst, err = getEnvInt(key, *dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks values that no single component owns.
func (c Config) Validate() error {
	if c.Elastic.Threshold < 0 {
		return fmt.Errorf("invalid config: elastic.threshold must not be negative, got %d", c.Elastic.Threshold)
	}
	if c.Elastic.Shards < 1 {
		return fmt.Errorf("invalid config: elastic.shards must be at least 1, got %d", c.Elastic.Shards)
	}
	if c.Elastic.Replicas < 0 {
		return fmt.Errorf("invalid config: elastic.replicas must not be negative, got %d", c.Elastic.Replicas)
	}
	if c.Elastic.DateFormat != DateFormat {
		return fmt.Errorf("invalid config: elastic.date_format must be %q, got %q", DateFormat, c.Elastic.DateFormat)
	}
	if c.Elastic.Index == "" {
		return fmt.Errorf("invalid config: elastic.index is empty")
	}
	return nil
}

// QueueActive reports whether documents go through the queue instead of inline indexing.
func (q QueueConfig) QueueActive() bool {
	return q.Enabled && q.Name != "" && q.Connection != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid config: %s=%q is not a boolean", key, value)
	}
	return b, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback, fmt.Errorf("invalid config: %s=%q is not an integer", key, value)
	}
	return n, nil
}

// Package config loads runtime settings from a .env file, an optional YAML
// file and the process environment, in that order of precedence (lowest first).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	HTTPAddr         string         `yaml:"http_addr"`
	Env              string         `yaml:"env"`
	DatabaseDSN      string         `yaml:"database_dsn"`
	JWTSecret        string         `yaml:"jwt_secret"`
	TelegramBotToken string         `yaml:"telegram_bot_token"`
	LocalesDir       string         `yaml:"locales_dir"`
	Redis            RedisConfig    `yaml:"redis"`
	Queue            QueueConfig    `yaml:"queue"`
	Realtime         RealtimeConfig `yaml:"realtime"`
	SMTP             SMTPConfig     `yaml:"smtp"`
}

// RedisConfig points at the durable queue backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig tunes the job queue and the worker pool draining it.
type QueueConfig struct {
	Backend           string        `yaml:"backend"`
	Prefix            string        `yaml:"prefix"`
	Workers           int           `yaml:"workers"`
	RetryCeiling      int           `yaml:"retry_ceiling"`
	BackoffPolicy     string        `yaml:"backoff_policy"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	// JobTimeout bounds one handler run; zero derives it from VisibilityTimeout.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// RealtimeConfig selects how room broadcasts reach connections.
type RealtimeConfig struct {
	Fanout        string `yaml:"fanout"`
	PubSubChannel string `yaml:"pubsub_channel"`
}

// SMTPConfig configures the outbound mail sender. An empty Host disables it.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Load reads configuration. A .env file is loaded when present, then the YAML
// file named by CONFIG_FILE, then environment variables override both.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path, expanding ${VAR} references first.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.Env = getEnv("APP_ENV", c.Env)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.LocalesDir = getEnv("LOCALES_DIR", c.LocalesDir)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getInt("REDIS_DB", c.Redis.DB)

	c.Queue.Backend = getEnv("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Prefix = getEnv("QUEUE_PREFIX", c.Queue.Prefix)
	c.Queue.Workers = getInt("WORKER_COUNT", c.Queue.Workers)
	c.Queue.RetryCeiling = getInt("RETRY_CEILING", c.Queue.RetryCeiling)
	c.Queue.BackoffPolicy = getEnv("BACKOFF_POLICY", c.Queue.BackoffPolicy)
	c.Queue.BackoffBase = getDuration("BACKOFF_BASE", c.Queue.BackoffBase)
	c.Queue.BackoffMax = getDuration("BACKOFF_MAX", c.Queue.BackoffMax)
	c.Queue.PollInterval = getDuration("POLL_INTERVAL", c.Queue.PollInterval)
	c.Queue.VisibilityTimeout = getDuration("VISIBILITY_TIMEOUT", c.Queue.VisibilityTimeout)
	c.Queue.JobTimeout = getDuration("JOB_TIMEOUT", c.Queue.JobTimeout)

	c.Realtime.Fanout = getEnv("FANOUT", c.Realtime.Fanout)
	c.Realtime.PubSubChannel = getEnv("PUBSUB_CHANNEL", c.Realtime.PubSubChannel)

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.User = getEnv("SMTP_USER", c.SMTP.User)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	switch c.Queue.Backend {
	case QueueBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for the redis queue backend")
		}
	case QueueBackendMemory:
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.Prefix == "" {
		return fmt.Errorf("queue prefix is required")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Queue.Workers)
	}
	if c.Queue.RetryCeiling <= 0 {
		return fmt.Errorf("retry ceiling must be positive, got %d", c.Queue.RetryCeiling)
	}
	switch c.Queue.BackoffPolicy {
	case BackoffNone, BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff policy %q", c.Queue.BackoffPolicy)
	}
	if c.Queue.BackoffBase < 0 || c.Queue.BackoffMax < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Queue.VisibilityTimeout < 0 || c.Queue.JobTimeout < 0 {
		return fmt.Errorf("visibility and job timeouts must not be negative")
	}
	if c.Queue.VisibilityTimeout > 0 && c.Queue.JobTimeout >= c.Queue.VisibilityTimeout {
		return fmt.Errorf("job timeout %s must be shorter than the visibility timeout %s",
			c.Queue.JobTimeout, c.Queue.VisibilityTimeout)
	}
	switch c.Realtime.Fanout {
	case FanoutLocal:
	case FanoutRedis:
		if c.Realtime.PubSubChannel == "" {
			return fmt.Errorf("pubsub channel is required for redis fanout")
		}
	default:
		return fmt.Errorf("unknown fanout mode %q", c.Realtime.Fanout)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == DefaultEnv
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("500ms") or whole seconds ("5").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

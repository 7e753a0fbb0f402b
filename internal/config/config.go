package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the YAML config file location.
const PathEnvVar = "CONFIG_PATH"

const defaultPath = "config.yaml"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	DB       DBConfig       `koanf:"db"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
	Identity IdentityConfig `koanf:"identity"`
	Jobs     JobsConfig     `koanf:"jobs"`
	Breaker  BreakerConfig  `koanf:"breaker"`
}

type ServerConfig struct {
	Port           string   `koanf:"port" validate:"required,numeric"`
	Environment    string   `koanf:"environment" validate:"oneof=development production test"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DBConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            string        `koanf:"port" validate:"required,numeric"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"sslmode" validate:"oneof=disable require verify-ca verify-full prefer allow"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	SlowThreshold   time.Duration `koanf:"slow_threshold"`
}

// DSN renders the postgres connection string gorm expects.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode,
	)
}

type RedisConfig struct {
	URL                string `koanf:"url" validate:"required"`
	InsecureSkipVerify bool   `koanf:"insecure_skip_verify"`
	PoolSize           int    `koanf:"pool_size" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type IdentityConfig struct {
	Secret string `koanf:"secret"`
}

type JobsConfig struct {
	RetryAttempts  int           `koanf:"retry_attempts" validate:"gte=1,lte=10"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay" validate:"gte=0"`
}

type BreakerConfig struct {
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gt=0"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8080",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		DB: DBConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Name:            "updown",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
			SlowThreshold:   time.Second,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Jobs: JobsConfig{
			RetryAttempts:  3,
			RetryBaseDelay: time.Second,
		},
		Breaker: BreakerConfig{
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Load builds the configuration from, in increasing priority: built-in
// defaults, an optional YAML file, a .env file and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := configPath(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Unmarshal splits comma separated env values such as ALLOWED_ORIGINS.
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func configPath() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}
	return ""
}

// envKeys maps environment variable names to config paths. Variables not
// listed are ignored so unrelated environment does not leak into the config.
var envKeys = map[string]string{
	"PORT":                      "server.port",
	"APP_ENV":                   "server.environment",
	"ALLOWED_ORIGINS":           "server.allowed_origins",
	"DB_HOST":                   "db.host",
	"DB_PORT":                   "db.port",
	"DB_USER":                   "db.user",
	"DB_PASSWORD":               "db.password",
	"DB_NAME":                   "db.name",
	"DB_SSLMODE":                "db.sslmode",
	"DB_MAX_IDLE_CONNS":         "db.max_idle_conns",
	"DB_MAX_OPEN_CONNS":         "db.max_open_conns",
	"DB_CONN_MAX_LIFETIME":      "db.conn_max_lifetime",
	"DB_SLOW_THRESHOLD":         "db.slow_threshold",
	"REDIS_URL":                 "redis.url",
	"REDIS_INSECURE_TLS":        "redis.insecure_skip_verify",
	"REDIS_POOL_SIZE":           "redis.pool_size",
	"LOG_LEVEL":                 "log.level",
	"LOG_FORMAT":                "log.format",
	"IP_HASH_SECRET":            "identity.secret",
	"JOB_RETRY_ATTEMPTS":        "jobs.retry_attempts",
	"JOB_RETRY_BASE_DELAY":      "jobs.retry_base_delay",
	"BREAKER_TIMEOUT":           "breaker.timeout",
	"BREAKER_FAILURE_THRESHOLD": "breaker.failure_threshold",
}

func envKey(key string) string {
	return envKeys[key]
}

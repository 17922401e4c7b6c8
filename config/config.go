// Package config resolves server and CLI settings: defaults, then an
// optional YAML file, then .env, then CASHBOX_* environment variables.
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

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultPort      = 8080
	defaultDriver    = DriverSQLite
	defaultDBPath    = "./data/cashbox.db"
	defaultOpTimeout = 5 * time.Second
	defaultTopic     = "cash_register_events"
)

type Config struct {
	Port           int           `yaml:"port"`
	Driver         string        `yaml:"driver"`
	DBPath         string        `yaml:"db_path"`
	DatabaseDSN    string        `yaml:"database_dsn"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Kafka          Kafka         `yaml:"kafka"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether events should go to Kafka.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

func Default() Config {
	return Config{
		Port:           defaultPort,
		Driver:         defaultDriver,
		DBPath:         defaultDBPath,
		OpTimeout:      defaultOpTimeout,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		Kafka:          Kafka{Topic: defaultTopic},
	}
}

// Load builds the configuration. path may be empty; a missing .env is fine.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := env("CASHBOX_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CASHBOX_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := env("CASHBOX_DRIVER"); v != "" {
		cfg.Driver = strings.ToLower(v)
	}
	if v := env("CASHBOX_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := env("CASHBOX_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := env("CASHBOX_OP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CASHBOX_OP_TIMEOUT: %w", err)
		}
		cfg.OpTimeout = d
	}
	if v := env("CASHBOX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := env("CASHBOX_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := env("CASHBOX_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	return nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("driver sqlite requires db_path")
		}
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("driver postgres requires database_dsn")
		}
	default:
		return fmt.Errorf("unknown driver %q (want memory, sqlite or postgres)", c.Driver)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("op_timeout must be positive")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

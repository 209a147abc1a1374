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
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// AppConfig holds all configuration for the server
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Database DatabaseSettings `yaml:"database"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ServerSettings contains HTTP and real-time settings
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"` // optional; required on the socket when set
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Namespaces     []string      `yaml:"namespaces"`
}

// DatabaseSettings contains storage configuration
type DatabaseSettings struct {
	Driver   string `yaml:"driver"` // "sqlite" or "memory"
	Path     string `yaml:"path"`
	Timezone string `yaml:"timezone"` // location for reading dates without an offset; empty = local
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// LoadDotEnv loads environment variables from the given .env files.
// Missing files are skipped; variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		err := godotenv.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// LoadAppConfig loads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Default returns a configuration with every default applied
func Default() *AppConfig {
	var config AppConfig
	config.ApplyDefaults()
	return &config
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.PingInterval == 0 {
		ac.Server.PingInterval = 30 * time.Second
	}
	if len(ac.Server.Namespaces) == 0 {
		ac.Server.Namespaces = []string{"/test"}
	}
	if ac.Database.Driver == "" {
		ac.Database.Driver = DriverSQLite
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/realtimeapp.db"
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		ac.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		ac.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		ac.Database.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Validate checks if the configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if len(ac.Server.Namespaces) == 0 {
		return fmt.Errorf("at least one namespace is required")
	}
	switch ac.Database.Driver {
	case DriverSQLite:
		if ac.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", ac.Database.Driver)
	}
	if _, err := ac.Database.Location(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(ac.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q", ac.Logging.Level)
	}
	if ac.Logging.Format != "json" && ac.Logging.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}
	return nil
}

// Location returns the configured timezone, defaulting to local time
func (ds DatabaseSettings) Location() (*time.Location, error) {
	if ds.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(ds.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", ds.Timezone, err)
	}
	return loc, nil
}

// Addr returns the listen address
func (ss ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", ss.Host, ss.Port)
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	server := ac.Server
	server.AuthToken = maskToken(server.AuthToken)
	return fmt.Sprintf("AppConfig{Server: %+v, Database: %+v, Logging: %+v}",
		server,
		ac.Database,
		ac.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}

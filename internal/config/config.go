package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ThingsBoard holds upstream platform settings.
type ThingsBoard struct {
	BaseURL          string        `yaml:"base_url"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	StreamBuffer     int           `yaml:"stream_buffer"`
}

// Alerts holds live temperature alert settings.
type Alerts struct {
	Enabled           bool          `yaml:"enabled"`
	Threshold         float64       `yaml:"threshold"`
	KeyMatch          string        `yaml:"key_match"`
	FreshnessWindow   time.Duration `yaml:"freshness_window"`
	Cooldown          time.Duration `yaml:"cooldown"`
	DiscoveryPageSize int           `yaml:"discovery_page_size"`
	WebhookURL        string        `yaml:"webhook_url"`
	Template          string        `yaml:"template"`
}

// SMTP holds outbound mail settings.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Redis holds the optional shared cooldown store settings.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the process configuration.
type Config struct {
	HTTPAddr       string      `yaml:"http_addr"`
	DatabaseURL    string      `yaml:"database_url"`
	JWTSecret      string      `yaml:"jwt_secret"`
	LogLevel       string      `yaml:"log_level"`
	LogFormat      string      `yaml:"log_format"`
	AllowedOrigins []string    `yaml:"allowed_origins"`
	ThingsBoard    ThingsBoard `yaml:"thingsboard"`
	Alerts         Alerts      `yaml:"alerts"`
	SMTP           SMTP        `yaml:"smtp"`
	Redis          Redis       `yaml:"redis"`
}

// ErrMissing is wrapped by Load when required settings are absent.
var ErrMissing = errors.New("config: missing required configuration")

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:  ":8000",
		LogLevel:  "info",
		LogFormat: "json",
		ThingsBoard: ThingsBoard{
			StreamBuffer: 256,
		},
		Alerts: Alerts{
			Enabled:           true,
			Threshold:         80,
			KeyMatch:          "temp",
			FreshnessWindow:   30 * time.Second,
			DiscoveryPageSize: 100,
		},
		SMTP: SMTP{Port: 587},
	}
}

// LoadDotEnv loads a .env file into the process environment when it exists.
// Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load applies defaults, an optional YAML file, then environment overrides,
// and fails when required settings are missing.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("YETI_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
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

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.ThingsBoard.BaseURL == "" {
		missing = append(missing, "TB_BASE_URL")
	}
	if c.ThingsBoard.Username == "" {
		missing = append(missing, "TB_USERNAME")
	}
	if c.ThingsBoard.Password == "" {
		missing = append(missing, "TB_PASSWORD")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("HTTP_ADDR") == "" {
		cfg.HTTPAddr = ":" + port
	}
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.JWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitCSV(origins)
	}

	setString(&cfg.ThingsBoard.BaseURL, "TB_BASE_URL")
	setString(&cfg.ThingsBoard.Username, "TB_USERNAME")
	setString(&cfg.ThingsBoard.Password, "TB_PASSWORD")
	cfg.ThingsBoard.BaseURL = strings.TrimRight(cfg.ThingsBoard.BaseURL, "/")

	setString(&cfg.Alerts.KeyMatch, "ALERT_KEY_MATCH")
	setString(&cfg.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")
	setString(&cfg.Alerts.Template, "ALERT_NOTIFY_TEMPLATE")

	setString(&cfg.SMTP.Host, "SMTP_HOST")
	setString(&cfg.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.SMTP.Password, "SMTP_PASSWORD")
	setString(&cfg.SMTP.From, "SMTP_FROM")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	var errs []error
	errs = append(errs,
		setDuration(&cfg.ThingsBoard.RequestTimeout, "TB_REQUEST_TIMEOUT"),
		setDuration(&cfg.ThingsBoard.HandshakeTimeout, "TB_WS_HANDSHAKE_TIMEOUT"),
		setInt(&cfg.ThingsBoard.StreamBuffer, "STREAM_BUFFER_SIZE"),
		setBool(&cfg.Alerts.Enabled, "ALERTS_ENABLED"),
		setFloat(&cfg.Alerts.Threshold, "ALERT_THRESHOLD"),
		setDuration(&cfg.Alerts.FreshnessWindow, "ALERT_FRESHNESS_WINDOW"),
		setDuration(&cfg.Alerts.Cooldown, "ALERT_NOTIFY_COOLDOWN"),
		setInt(&cfg.Alerts.DiscoveryPageSize, "ALERT_DISCOVERY_PAGE_SIZE"),
		setInt(&cfg.SMTP.Port, "SMTP_PORT"),
		setInt(&cfg.Redis.DB, "REDIS_DB"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setFloat(dst *float64, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setBool(dst *bool, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = parsed
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

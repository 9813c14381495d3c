package application

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig configures the remote telemetry API.
type APIConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	AppID          string        `yaml:"app_id"`
	AppSecret      string        `yaml:"app_secret"`
	Email          string        `yaml:"email"`
	Password       string        `yaml:"password"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RefreshConfig configures the refresh scheduler.
type RefreshConfig struct {
	Interval      time.Duration `yaml:"interval"`
	TopologyEvery int           `yaml:"topology_every"`
	PageSize      int           `yaml:"page_size"`
	BatchSize     int           `yaml:"batch_size"`
	Concurrency   int           `yaml:"concurrency"`
}

// AlertConfig configures the rule engine.
type AlertConfig struct {
	Timezone string `yaml:"timezone"`
}

// NotifyConfig configures alert notification channels.
type NotifyConfig struct {
	WebhookURL   string        `yaml:"webhook_url"`
	Template     string        `yaml:"template"`
	Cooldown     time.Duration `yaml:"cooldown"`
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	Escalation   time.Duration `yaml:"escalation"`
	Timeout      time.Duration `yaml:"timeout"`
	NATSURL      string        `yaml:"nats_url"`
	NATSSubject  string        `yaml:"nats_subject"`
}

// Config is the fleet monitor configuration.
type Config struct {
	HTTPAddr         string           `yaml:"http_addr"`
	DatabaseURL      string           `yaml:"database_url"`
	JWTSecret        string           `yaml:"jwt_secret"`
	API              APIConfig        `yaml:"api"`
	Refresh          RefreshConfig    `yaml:"refresh"`
	Alerts           AlertConfig      `yaml:"alerts"`
	PreferredDevices map[int64]string `yaml:"preferred_devices"`
	Notify           NotifyConfig     `yaml:"notify"`
}

// LoadConfig loads config from yaml or env. The file named by FLEET_CONFIG
// is applied over the env defaults; empty file values fall back to env.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("FLEET_JWT_SECRET"),
		API: APIConfig{
			BaseURL:        getenvDefault("SOLARCLOUD_BASE_URL", "https://globalapi.solarmanpv.com"),
			Token:          os.Getenv("SOLARCLOUD_TOKEN"),
			AppID:          os.Getenv("SOLARCLOUD_APP_ID"),
			AppSecret:      os.Getenv("SOLARCLOUD_APP_SECRET"),
			Email:          os.Getenv("SOLARCLOUD_EMAIL"),
			Password:       os.Getenv("SOLARCLOUD_PASSWORD"),
			RequestTimeout: getenvDurationDefault("SOLARCLOUD_REQUEST_TIMEOUT", 10*time.Second),
		},
		Refresh: RefreshConfig{
			Interval:      getenvDurationDefault("REFRESH_INTERVAL", defaultInterval),
			TopologyEvery: getenvIntDefault("REFRESH_TOPOLOGY_EVERY", defaultTopologyEvery),
			PageSize:      getenvIntDefault("REFRESH_PAGE_SIZE", 50),
			BatchSize:     getenvIntDefault("REFRESH_BATCH_SIZE", 10),
			Concurrency:   getenvIntDefault("REFRESH_CONCURRENCY", defaultConcurrency),
		},
		Alerts: AlertConfig{
			Timezone: getenvDefault("ALERTS_TIMEZONE", "Local"),
		},
		PreferredDevices: parsePreferences(os.Getenv("PREFERRED_DEVICES")),
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
			Template:     os.Getenv("ALERT_TEMPLATE"),
			Cooldown:     getenvDurationDefault("ALERT_COOLDOWN", 0),
			DedupeWindow: getenvDurationDefault("ALERT_DEDUPE_WINDOW", 10*time.Minute),
			Escalation:   getenvDurationDefault("ALERT_ESCALATION", 0),
			Timeout:      getenvDurationDefault("ALERT_TIMEOUT", 5*time.Second),
			NATSURL:      os.Getenv("NATS_URL"),
			NATSSubject:  getenvDefault("NATS_SUBJECT", "fleet.alerts"),
		},
	}

	if path := os.Getenv("FLEET_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.API.BaseURL == "" {
		return cfg, errors.New("config: api base url required")
	}
	if cfg.Refresh.Interval <= 0 {
		cfg.Refresh.Interval = defaultInterval
	}
	if cfg.Refresh.BatchSize <= 0 || cfg.Refresh.BatchSize > 10 {
		cfg.Refresh.BatchSize = 10
	}
	if cfg.Notify.NATSSubject == "" {
		cfg.Notify.NATSSubject = "fleet.alerts"
	}
	if _, err := cfg.Location(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves the alert time zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Alerts.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// UsesCredentials reports whether the token must be obtained from app credentials.
func (c Config) UsesCredentials() bool {
	return c.API.Token == "" && c.API.AppID != "" && c.API.AppSecret != ""
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// parsePreferences reads "stationID=serial,stationID=serial".
func parsePreferences(value string) map[int64]string {
	if value == "" {
		return nil
	}
	out := make(map[int64]string)
	for _, part := range strings.Split(value, ",") {
		id, serial, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		stationID, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil || strings.TrimSpace(serial) == "" {
			continue
		}
		out[stationID] = strings.TrimSpace(serial)
	}
	return out
}

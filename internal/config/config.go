package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	alerts "terrarium-cloud/internal/alerts/domain"
	automation "terrarium-cloud/internal/automation/domain"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profiles "terrarium-cloud/internal/profiles/domain"
)

// DefaultPath is read when TERRARIUM_CONFIG is unset. A missing default file is not an error.
const DefaultPath = "config/terrarium.yaml"

// Config is the engine configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	Timezone    string `yaml:"timezone"`

	Auth        AuthConfig        `yaml:"auth"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Automation  AutomationConfig  `yaml:"automation"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Retention   RetentionConfig   `yaml:"retention"`

	Biomes  map[string]ecosystem.Profile `yaml:"biomes"`
	Sources []SourceConfig               `yaml:"sources"`
}

// AuthConfig holds API and device secrets.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	IngestSecret string        `yaml:"ingest_secret"`
	IngestSkew   time.Duration `yaml:"ingest_skew"`
}

// MQTTConfig configures the broker connection. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// ReadingsTopic is the subscription filter for sensor readings.
func (c MQTTConfig) ReadingsTopic() string {
	return c.TopicPrefix + "/+/readings"
}

// KafkaConfig configures the alert stream. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AlertTopic string   `yaml:"alert_topic"`
}

// IngestConfig bounds per-source ingest.
type IngestConfig struct {
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
}

// AggregationConfig tunes the rollup writer.
type AggregationConfig struct {
	MaxAttempts      int  `yaml:"max_attempts"`
	RejectOutOfOrder bool `yaml:"reject_out_of_order"`
}

// AutomationConfig holds control loop timings.
type AutomationConfig struct {
	MistDuration  time.Duration `yaml:"mist_duration"`
	MistCooldown  time.Duration `yaml:"mist_cooldown"`
	LightStart    string        `yaml:"light_start"`
	LightEnd      string        `yaml:"light_end"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	LightInterval time.Duration `yaml:"light_interval"`
}

// Schedule parses the light window.
func (c AutomationConfig) Schedule() (automation.Schedule, error) {
	return automation.ParseSchedule(c.LightStart, c.LightEnd)
}

// MistConfig returns the mist timers.
func (c AutomationConfig) MistConfig() automation.MistConfig {
	return automation.MistConfig{Duration: c.MistDuration, Cooldown: c.MistCooldown}
}

// AlertsConfig holds limiter and delivery settings.
type AlertsConfig struct {
	Window        time.Duration `yaml:"window"`
	DailyCap      int           `yaml:"daily_cap"`
	WebhookURL    string        `yaml:"webhook_url"`
	DedupeWindow  time.Duration `yaml:"dedupe_window"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`
}

// RetentionConfig holds maximum ages and the daily sweep time.
type RetentionConfig struct {
	HourBuckets time.Duration `yaml:"hour_buckets"`
	DayBuckets  time.Duration `yaml:"day_buckets"`
	Alerts      time.Duration `yaml:"alerts"`
	Commands    time.Duration `yaml:"commands"`
	SweepAt     string        `yaml:"sweep_at"`
}

// SourceConfig seeds one source profile.
type SourceConfig struct {
	SourceID   string                       `yaml:"source_id"`
	OwnerID    string                       `yaml:"owner_id"`
	Biome      string                       `yaml:"biome"`
	Automation *profiles.AutomationSettings `yaml:"automation"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		Timezone: "UTC",
		Auth:     AuthConfig{IngestSkew: 5 * time.Minute},
		MQTT:     MQTTConfig{ClientID: "terrarium-engine", TopicPrefix: "terrarium", QoS: 1},
		Kafka:    KafkaConfig{AlertTopic: "terrarium.alerts"},
		Ingest:   IngestConfig{RatePerSecond: 5, Burst: 20, PresenceTimeout: 2 * time.Minute},
		Aggregation: AggregationConfig{
			MaxAttempts: 3,
		},
		Automation: AutomationConfig{
			MistDuration:  automation.DefaultMistDuration,
			MistCooldown:  automation.DefaultMistCooldown,
			LightStart:    automation.DefaultSchedule.Start.String(),
			LightEnd:      automation.DefaultSchedule.End.String(),
			TickInterval:  10 * time.Second,
			LightInterval: time.Minute,
		},
		Alerts: AlertsConfig{
			Window:        alerts.DefaultWindow,
			DailyCap:      alerts.DefaultDailyCap,
			NotifyTimeout: 5 * time.Second,
		},
		Retention: RetentionConfig{
			HourBuckets: 7 * 24 * time.Hour,
			DayBuckets:  90 * 24 * time.Hour,
			Alerts:      30 * 24 * time.Hour,
			Commands:    30 * 24 * time.Hour,
			SweepAt:     "03:00",
		},
	}
}

// Load reads the YAML file named by TERRARIUM_CONFIG (or DefaultPath) over
// the defaults, then applies environment overrides and validates.
func Load() (Config, error) {
	cfg := Defaults()
	path := os.Getenv("TERRARIUM_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.Timezone = getenvDefault("TERRARIUM_TIMEZONE", cfg.Timezone)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.Auth.IngestSkew = getenvDuration("INGEST_MAX_SKEW", cfg.Auth.IngestSkew)

	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.AlertTopic = getenvDefault("KAFKA_ALERT_TOPIC", cfg.Kafka.AlertTopic)

	cfg.Ingest.RatePerSecond = getenvFloatDefault("INGEST_RATE_PER_SECOND", cfg.Ingest.RatePerSecond)
	cfg.Ingest.Burst = getenvIntDefault("INGEST_BURST", cfg.Ingest.Burst)
	cfg.Ingest.PresenceTimeout = getenvDuration("PRESENCE_TIMEOUT", cfg.Ingest.PresenceTimeout)

	cfg.Aggregation.MaxAttempts = getenvIntDefault("AGGREGATION_MAX_ATTEMPTS", cfg.Aggregation.MaxAttempts)
	cfg.Aggregation.RejectOutOfOrder = getenvBool("AGGREGATION_REJECT_OUT_OF_ORDER", cfg.Aggregation.RejectOutOfOrder)

	cfg.Automation.MistDuration = getenvDuration("MIST_DURATION", cfg.Automation.MistDuration)
	cfg.Automation.MistCooldown = getenvDuration("MIST_COOLDOWN", cfg.Automation.MistCooldown)
	cfg.Automation.LightStart = getenvDefault("LIGHT_START", cfg.Automation.LightStart)
	cfg.Automation.LightEnd = getenvDefault("LIGHT_END", cfg.Automation.LightEnd)
	cfg.Automation.TickInterval = getenvDuration("AUTOMATION_TICK_INTERVAL", cfg.Automation.TickInterval)

	cfg.Alerts.Window = getenvDuration("ALERT_WINDOW", cfg.Alerts.Window)
	cfg.Alerts.DailyCap = getenvIntDefault("ALERT_DAILY_CAP", cfg.Alerts.DailyCap)
	cfg.Alerts.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Alerts.WebhookURL)
	cfg.Alerts.DedupeWindow = getenvDuration("ALERT_NOTIFY_DEDUP_WINDOW", cfg.Alerts.DedupeWindow)

	cfg.Retention.SweepAt = getenvDefault("RETENTION_SWEEP_AT", cfg.Retention.SweepAt)
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Automation.Schedule(); err != nil {
		return fmt.Errorf("config: light window: %w", err)
	}
	if c.Automation.MistDuration <= 0 || c.Automation.MistCooldown < 0 {
		return errors.New("config: mist timers must be positive")
	}
	if c.Automation.TickInterval <= 0 {
		return errors.New("config: tick interval must be positive")
	}
	if c.Alerts.Window < 0 || c.Alerts.DailyCap <= 0 {
		return errors.New("config: alert window and daily cap must be positive")
	}
	if _, _, err := ParseDailyAt(c.Retention.SweepAt); err != nil {
		return fmt.Errorf("config: sweep_at: %w", err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos %d out of range", c.MQTT.QoS)
	}
	overrides, err := c.BiomeOverrides()
	if err != nil {
		return err
	}
	if _, err := ecosystem.NewRegistry(overrides); err != nil {
		return fmt.Errorf("config: biomes: %w", err)
	}
	if _, err := c.SeedProfiles(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// BiomeOverrides converts the biomes section for ecosystem.NewRegistry.
func (c Config) BiomeOverrides() (map[ecosystem.Biome]ecosystem.Profile, error) {
	if len(c.Biomes) == 0 {
		return nil, nil
	}
	out := make(map[ecosystem.Biome]ecosystem.Profile, len(c.Biomes))
	for name, profile := range c.Biomes {
		biome, err := ecosystem.ParseBiome(name)
		if err != nil {
			return nil, fmt.Errorf("config: biomes: %w", err)
		}
		out[biome] = profile
	}
	return out, nil
}

// SeedProfiles converts the sources section into profiles.
func (c Config) SeedProfiles() ([]profiles.Profile, error) {
	out := make([]profiles.Profile, 0, len(c.Sources))
	for _, src := range c.Sources {
		biome := ecosystem.DefaultBiome
		if src.Biome != "" {
			parsed, err := ecosystem.ParseBiome(src.Biome)
			if err != nil {
				return nil, fmt.Errorf("config: source %s: %w", src.SourceID, err)
			}
			biome = parsed
		}
		p := profiles.Profile{SourceID: src.SourceID, OwnerID: src.OwnerID, Biome: biome}
		if src.Automation != nil {
			settings := *src.Automation
			if settings.TriggerMode == "" {
				settings.TriggerMode = profiles.TriggerModeMin
			}
			p.Automation = &settings
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("config: source %q: %w", src.SourceID, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseDailyAt parses an HH:MM time of day.
func ParseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
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

func getenvDuration(key string, fallback time.Duration) time.Duration {
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

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

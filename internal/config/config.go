package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the full agent configuration. Values come from a YAML file,
// environment variables win.
type Config struct {
	Postgres struct {
		DSN string `yaml:"dsn" env:"DATABASE_DSN"`
	} `yaml:"postgres"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	} `yaml:"minio"`

	Kafka struct {
		Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		GroupID        string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		SessionTopic   string   `yaml:"session_topic" env:"SESSION_TOPIC"`
		HeartbeatTopic string   `yaml:"heartbeat_topic" env:"HEARTBEAT_TOPIC"`
		AlertTopic     string   `yaml:"alert_topic" env:"ALERT_TOPIC"`
	} `yaml:"kafka"`

	Inference struct {
		URL            string        `yaml:"url" env:"INFERENCE_WS_URL"`
		ConnectTimeout time.Duration `yaml:"-" env:"INFERENCE_CONNECT_TIMEOUT"`
		ReconnectDelay time.Duration `yaml:"-" env:"INFERENCE_RECONNECT_DELAY"`
		STUNServer     string        `yaml:"stun_server" env:"STUN_SERVER"`
	} `yaml:"inference"`

	Model struct {
		UserID           string  `yaml:"user_id" env:"MODEL_USER_ID"`
		PrimaryModel     string  `yaml:"primary_model" env:"PRIMARY_MODEL"`
		PrimaryThreshold float64 `yaml:"primary_threshold" env:"PRIMARY_THRESHOLD"`
		VetoModel        string  `yaml:"veto_model" env:"VETO_MODEL"`
		VetoThreshold    float64 `yaml:"veto_threshold" env:"VETO_THRESHOLD"`
		SmartVetoEnabled bool    `yaml:"smart_veto_enabled" env:"SMART_VETO_ENABLED"`
	} `yaml:"model"`

	Trigger struct {
		InstantThreshold   float64 `yaml:"instant_threshold" env:"INSTANT_TRIGGER_THRESHOLD"`
		InstantCount       int     `yaml:"instant_count" env:"INSTANT_TRIGGER_COUNT"`
		InstantDecay       int     `yaml:"instant_decay" env:"INSTANT_TRIGGER_DECAY"`
		SustainedThreshold float64 `yaml:"sustained_threshold" env:"SUSTAINED_THRESHOLD"`
		SustainedDuration  float64 `yaml:"sustained_duration" env:"SUSTAINED_DURATION"`
		SustainedDecay     int     `yaml:"sustained_decay" env:"SUSTAINED_DECAY"`
		CooldownSeconds    float64 `yaml:"cooldown_seconds" env:"ALERT_COOLDOWN_SECONDS"`
	} `yaml:"trigger"`

	Recording struct {
		DurationSeconds int  `yaml:"duration_seconds" env:"RECORDING_DURATION_SECONDS"`
		AutoRecord      bool `yaml:"auto_record" env:"AUTO_RECORD"`
	} `yaml:"recording"`

	Alerts struct {
		WebhookURL string `yaml:"webhook_url" env:"ALERT_WEBHOOK_URL"`
	} `yaml:"alerts"`
}

// LoadConfig reads the YAML file then applies environment overrides.
func LoadConfig(filename string) (*Config, error) {
	cfg := Defaults()

	if filename == "" {
		filename = "local.yaml"
	}
	path := "internal/config/" + filename

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults mirrors the server-side defaults so a session started with an
// empty config section still behaves like the hosted dashboard.
func Defaults() *Config {
	cfg := &Config{}

	cfg.Inference.ConnectTimeout = 10 * time.Second
	cfg.Inference.ReconnectDelay = 2 * time.Second
	cfg.Inference.STUNServer = "stun:stun.l.google.com:19302"

	cfg.Model.PrimaryModel = "yolo-gcn-v26"
	cfg.Model.PrimaryThreshold = 50
	cfg.Model.VetoModel = "veto-gcn-v2"
	cfg.Model.VetoThreshold = 4
	cfg.Model.SmartVetoEnabled = true

	cfg.Trigger.InstantThreshold = 95
	cfg.Trigger.InstantCount = 3
	cfg.Trigger.InstantDecay = 1
	cfg.Trigger.SustainedThreshold = 70
	cfg.Trigger.SustainedDuration = 2
	cfg.Trigger.SustainedDecay = 10
	cfg.Trigger.CooldownSeconds = 3

	cfg.Recording.DurationSeconds = 60
	cfg.Recording.AutoRecord = true

	return cfg
}

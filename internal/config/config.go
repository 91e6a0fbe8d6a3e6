package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pastukhov/yaic/internal/discovery"
)

// Config represents the complete yaic configuration.
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	Language         string           `yaml:"language"` // ISO 639 code for classifier free-text fields
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	Classifier       ClassifierConfig `yaml:"classifier"`
	Router           RouterConfig     `yaml:"router"`
	Metrics          MetricsConfig    `yaml:"metrics"`
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates; empty fields are derived from
// the prefix by Validate.
type MQTTTopics struct {
	Prefix  string `yaml:"prefix"`
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
	Status  string `yaml:"status"`
	Log     string `yaml:"log"`
	Control string `yaml:"control"`
}

// ClassifierConfig contains remote classifier settings.
type ClassifierConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	TimeoutS      int    `yaml:"timeout_s"`       // per attempt
	MaxAttempts   int    `yaml:"max_attempts"`
	BackoffBaseMs int    `yaml:"backoff_base_ms"`
	BackoffMaxMs  int    `yaml:"backoff_max_ms"`
}

// RouterConfig bounds per-source processing.
type RouterConfig struct {
	QueueDepth int `yaml:"queue_depth"`
	MaxSources int `yaml:"max_sources"`
}

// MetricsConfig contains the metrics/health HTTP settings.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML configuration file, applies environment overrides
// and validates the result. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnv overlays environment variables on the file values, so
// secrets can stay out of the YAML.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("QWEN_ENDPOINT"); v != "" {
		cfg.Classifier.Endpoint = v
	}
	if v := os.Getenv("QWEN_API_KEY"); v != "" {
		cfg.Classifier.APIKey = v
	}
	if v := os.Getenv("QWEN_MODEL"); v != "" {
		cfg.Classifier.Model = v
	}
	if v := os.Getenv("YAIC_LANGUAGE"); v != "" {
		cfg.Language = v
	}
}

// Topics returns the resolved topic layout.
func (c *Config) Topics() discovery.Topics {
	return discovery.Topics{
		Prefix: c.MQTT.Topics.Prefix,
		Input:  c.MQTT.Topics.Input,
		Output: c.MQTT.Topics.Output,
		Status: c.MQTT.Topics.Status,
		Log:    c.MQTT.Topics.Log,
	}
}

// ShutdownTimeout returns the graceful shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Language == "" {
		return fmt.Errorf("language is required")
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	// Derive topic defaults from the prefix.
	if cfg.MQTT.Topics.Prefix == "" {
		cfg.MQTT.Topics.Prefix = "yaic"
	}
	prefix := cfg.MQTT.Topics.Prefix
	if cfg.MQTT.Topics.Input == "" {
		cfg.MQTT.Topics.Input = fmt.Sprintf("%s/input/+/image", prefix)
	}
	if cfg.MQTT.Topics.Output == "" {
		cfg.MQTT.Topics.Output = fmt.Sprintf("%s/output", prefix)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("%s/status", prefix)
	}
	if cfg.MQTT.Topics.Log == "" {
		cfg.MQTT.Topics.Log = fmt.Sprintf("%s/log", prefix)
	}
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("%s/control/%s", prefix, cfg.InstanceID)
	}

	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"input":          1,
			"classification": 1,
			"event":          1,
			"image":          1,
			"status":         1,
			"operation":      1,
			"log":            1,
			"discovery":      1,
			"control":        1,
		}
	}

	if cfg.Classifier.Endpoint == "" {
		return fmt.Errorf("classifier.endpoint is required")
	}
	if cfg.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key is required")
	}
	if cfg.Classifier.TimeoutS <= 0 {
		cfg.Classifier.TimeoutS = 30
	}
	if cfg.Classifier.MaxAttempts <= 0 {
		cfg.Classifier.MaxAttempts = 3
	}
	if cfg.Classifier.BackoffBaseMs <= 0 {
		cfg.Classifier.BackoffBaseMs = 1000
	}
	if cfg.Classifier.BackoffMaxMs <= 0 {
		cfg.Classifier.BackoffMaxMs = 30000
	}

	if cfg.Router.QueueDepth <= 0 {
		cfg.Router.QueueDepth = 4
	}
	if cfg.Router.MaxSources <= 0 {
		cfg.Router.MaxSources = 256
	}

	if cfg.Metrics.Port <= 0 {
		cfg.Metrics.Port = 8080
	}

	return nil
}

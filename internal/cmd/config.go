package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/soras/labdraft/internal/outbox"
)

// Config is the relay daemon configuration file.
type Config struct {
	Relay struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		BatchSize    int32         `yaml:"batch_size"`
		MaxRetries   int           `yaml:"max_retries"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
	} `yaml:"relay"`
	NATS struct {
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func (c *Config) workerConfig() outbox.Config {
	cfg := outbox.DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.Relay.PollInterval > 0 {
		cfg.PollInterval = c.Relay.PollInterval
	}
	if c.Relay.BatchSize > 0 {
		cfg.BatchSize = c.Relay.BatchSize
	}
	if c.Relay.MaxRetries > 0 {
		cfg.MaxRetries = c.Relay.MaxRetries
	}
	if c.Relay.RetryDelay > 0 {
		cfg.RetryDelay = c.Relay.RetryDelay
	}
	return cfg
}

func (c *Config) jetStreamConfig() outbox.JetStreamConfig {
	cfg := outbox.DefaultJetStreamConfig()
	if c == nil {
		return cfg
	}
	if c.NATS.URL != "" {
		cfg.URL = c.NATS.URL
	}
	if c.NATS.StreamName != "" {
		cfg.StreamName = c.NATS.StreamName
	}
	if c.NATS.SubjectPrefix != "" {
		cfg.SubjectPrefix = c.NATS.SubjectPrefix
	}
	return cfg
}

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Exam struct {
		PaperTimeSeconds int      `yaml:"paperTimeSeconds"`
		PoolTTL          string   `yaml:"poolTtl"`
		AccessCodes      []string `yaml:"accessCodes"`
	} `yaml:"exam"`
}

// DefaultPaperTimeSeconds is the two-hour budget each paper starts with.
const DefaultPaperTimeSeconds = 7200

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PaperTimeSeconds returns the configured budget or the default.
func (c Config) PaperTimeSeconds() int {
	if c.Exam.PaperTimeSeconds > 0 {
		return c.Exam.PaperTimeSeconds
	}
	return DefaultPaperTimeSeconds
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

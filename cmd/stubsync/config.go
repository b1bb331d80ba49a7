package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// duration accepts Go duration strings ("30s", "5m") in YAML, which the
// stock decoder cannot parse into time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) std() time.Duration {
	return time.Duration(d)
}

// Config mirrors the optional YAML config file. Flags and environment
// variables override anything set here.
type Config struct {
	BaseURL   string `yaml:"baseUrl"`
	Token     string `yaml:"token"`
	ListenOn  string `yaml:"listen"`
	Intervals struct {
		Probe        duration `yaml:"probe"`
		FullSync     duration `yaml:"fullSync"`
		CacheRebuild duration `yaml:"cacheRebuild"`
	} `yaml:"intervals"`
	Timeouts struct {
		FullSync   duration `yaml:"fullSync"`
		CacheWrite duration `yaml:"cacheWrite"`
	} `yaml:"timeouts"`
	CacheTTL duration `yaml:"cacheTtl"`
	Jitter   float64  `yaml:"jitter"`
}

func loadConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

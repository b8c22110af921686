package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides, e.g. GEARBOX_LOG_LEVEL.
const envPrefix = "GEARBOX"

// Config holds runtime settings for the CLI and the HTTP service.
type Config struct {
	Addr     string      `mapstructure:"addr"`
	Port     string      `mapstructure:"port"`
	LogLevel string      `mapstructure:"log_level"`
	Fetch    FetchConfig `mapstructure:"fetch"`
	GCP      GCPConfig   `mapstructure:"gcp"`
}

// FetchConfig bounds how schematics are fetched from URLs. The HTTP API
// only fetches from AllowedHosts; with none listed, URL uploads are refused.
type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	AllowedHosts []string      `mapstructure:"allowed_hosts"`
}

// GCPConfig configures image transcription. An empty ProjectID disables it.
type GCPConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Region    string `mapstructure:"region"`
	Model     string `mapstructure:"model"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Port:     "8080",
		LogLevel: "info",
		Fetch:    FetchConfig{Timeout: 15 * time.Second, AllowedHosts: []string{}},
		GCP:      GCPConfig{Region: defaultRegion, Model: defaultModel},
	}
}

// ListenAddr is Addr, or ":Port" when Addr is unset.
func (c Config) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return ":" + c.Port
}

// loadConfig merges defaults, an optional config file and the environment.
func loadConfig(path string) (Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("addr", defaults.Addr)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("fetch.timeout", defaults.Fetch.Timeout)
	v.SetDefault("fetch.allowed_hosts", defaults.Fetch.AllowedHosts)
	v.SetDefault("gcp.project_id", defaults.GCP.ProjectID)
	v.SetDefault("gcp.region", defaults.GCP.Region)
	v.SetDefault("gcp.model", defaults.GCP.Model)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names are what Cloud Run and the gcloud tooling set.
	for key, env := range map[string]string{
		"port":           "PORT",
		"gcp.project_id": "GCP_PROJECT_ID",
		"gcp.region":     "GCP_REGION",
	} {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Fetch.Timeout <= 0 {
		return Config{}, fmt.Errorf("fetch.timeout must be positive, got %s", cfg.Fetch.Timeout)
	}
	return cfg, nil
}

// newLogger builds the process logger at the given level.
func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "gearbox",
		Level:           lvl,
		ReportTimestamp: true,
	}), nil
}

// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/callsync/config.yaml",
	"/etc/callsync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every optional setting filled in.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Feed:            FeedBasic,
			Timeout:         30 * time.Second,
			TimeZone:        "UTC",
			RateLimit:       1,
			RateBurst:       2,
			RetryAttempts:   3,
			RetryDelay:      2 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  2 * time.Minute,
		},
		Sync: SyncConfig{
			Enabled:               true,
			Interval:              30 * time.Minute,
			InitialDelay:          5 * time.Second,
			CallEndedDelay:        time.Second,
			MissedCallFirstDelay:  10 * time.Second,
			MissedCallSecondDelay: 60 * time.Second,
			ClickToDialTolerance:  5 * time.Second,
			WorkerQueue:           1,
		},
		Directory: DirectoryConfig{
			Timeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path:       "/data/callsync",
			GCInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8087,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration from defaults, an optional YAML file and
// the environment, in that order of increasing priority, then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// BACKEND_URL -> backend.url, SYNC_INTERVAL -> sync.interval, ...
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processMapFields(k); err != nil {
		return nil, fmt.Errorf("failed to process map fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// mapConfigPaths are map fields that may arrive from the environment as
// "key=value,key=value" strings.
var mapConfigPaths = []string{
	"directory.static",
}

// processMapFields converts comma-separated key=value strings into maps for
// known map fields. Values already parsed from YAML are left alone.
func processMapFields(k *koanf.Koanf) error {
	for _, path := range mapConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		m := make(map[string]interface{})
		for _, pair := range strings.Split(strVal, ",") {
			key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
			if !found || strings.TrimSpace(key) == "" {
				return fmt.Errorf("%s: malformed entry %q, want number=name", path, pair)
			}
			m[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}

		// Delete first so the string value does not shadow the map.
		k.Delete(path)
		if err := k.Set(path, m); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so the process environment cannot pollute
// the configuration.
//
// Examples:
//   - BACKEND_URL -> backend.url
//   - SYNC_INTERVAL -> sync.interval
//   - PHONE_DEFAULT_REGION -> phone.default_region
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"backend_url":              "backend.url",
		"backend_token":            "backend.token",
		"backend_feed":             "backend.feed",
		"backend_timeout":          "backend.timeout",
		"backend_time_zone":        "backend.time_zone",
		"backend_rate_limit":       "backend.rate_limit",
		"backend_rate_burst":       "backend.rate_burst",
		"backend_retry_attempts":   "backend.retry_attempts",
		"backend_retry_delay":      "backend.retry_delay",
		"backend_breaker_failures": "backend.breaker_failures",
		"backend_breaker_timeout":  "backend.breaker_timeout",

		"sync_enabled":                  "sync.enabled",
		"sync_interval":                 "sync.interval",
		"sync_initial_delay":            "sync.initial_delay",
		"sync_call_ended_delay":         "sync.call_ended_delay",
		"sync_missed_call_first_delay":  "sync.missed_call_first_delay",
		"sync_missed_call_second_delay": "sync.missed_call_second_delay",
		"sync_click_to_dial_tolerance":  "sync.click_to_dial_tolerance",
		"sync_worker_queue":             "sync.worker_queue",

		"phone_default_region": "phone.default_region",

		"directory_url":     "directory.url",
		"directory_timeout": "directory.timeout",
		"directory_static":  "directory.static",

		"store_path":        "store.path",
		"store_in_memory":   "store.in_memory",
		"store_gc_interval": "store.gc_interval",

		"http_enabled": "server.enabled",
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		"supervisor_failure_threshold": "supervisor.failure_threshold",
		"supervisor_failure_decay":     "supervisor.failure_decay",
		"supervisor_failure_backoff":   "supervisor.failure_backoff",
		"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package config

import (
	"time"
	_ "time/tzdata" // backend time zones must resolve on minimal images
)

// Config holds all callsync configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values from defaultConfig()
//  2. Config File: optional YAML file (config.yaml or CONFIG_PATH)
//  3. Environment Variables: explicit mapping table in envTransformFunc
//
// Example:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load configuration")
//	}
type Config struct {
	Backend    BackendConfig    `koanf:"backend"`
	Sync       SyncConfig       `koanf:"sync"`
	Phone      PhoneConfig      `koanf:"phone"`
	Directory  DirectoryConfig  `koanf:"directory"`
	Store      StoreConfig      `koanf:"store"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// Feed values select which backend service feed the call log comes from.
const (
	FeedBasic    = "basic"
	FeedCombined = "combined"
)

// BackendConfig describes the telephony backend that serves the remote call log.
type BackendConfig struct {
	// URL is the base URL of the backend, e.g. https://xsi.example.com
	URL string `koanf:"url"`

	// Token is sent as a bearer token. How it is obtained is outside callsync.
	Token string `koanf:"token"`

	// Feed is "basic" or "combined". With the combined feed answered calls
	// may still be in progress and are subject to in-progress suppression.
	Feed string `koanf:"feed"`

	// Timeout bounds a single fetch request.
	Timeout time.Duration `koanf:"timeout"`

	// TimeZone is the IANA zone the backend renders DateTime values in.
	TimeZone string `koanf:"time_zone"`

	// RateLimit is the maximum fetches per second (burst RateBurst).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
}

// SyncConfig holds scheduler and reconciliation settings.
type SyncConfig struct {
	// Enabled is the initial class-of-service state. Class-of-service events
	// on the bus can still flip it at runtime.
	Enabled bool `koanf:"enabled"`

	Interval       time.Duration `koanf:"interval"`
	InitialDelay   time.Duration `koanf:"initial_delay"`
	CallEndedDelay time.Duration `koanf:"call_ended_delay"`

	// A missed call schedules two fetches: one to catch the far end hanging
	// up and one after the voicemail window.
	MissedCallFirstDelay  time.Duration `koanf:"missed_call_first_delay"`
	MissedCallSecondDelay time.Duration `koanf:"missed_call_second_delay"`

	// ClickToDialTolerance is the maximum end-time difference between the
	// inbound and outbound legs of a click-to-dial call.
	ClickToDialTolerance time.Duration `koanf:"click_to_dial_tolerance"`

	// WorkerQueue is the buffer between the fetch goroutine and the
	// reconciliation worker.
	WorkerQueue int `koanf:"worker_queue"`
}

// PhoneConfig controls number normalization.
type PhoneConfig struct {
	// DefaultRegion is a CLDR region code (e.g. "GB") used to put numbers
	// without a country code into E.164. Empty disables region expansion.
	DefaultRegion string `koanf:"default_region"`
}

// DirectoryConfig configures display-name lookup.
type DirectoryConfig struct {
	// URL of an HTTP directory service. Empty uses the static directory only.
	URL string `koanf:"url"`

	// Timeout is the bounded wait for a single lookup. A timeout resolves to
	// "no name found".
	Timeout time.Duration `koanf:"timeout"`

	// Static maps numbers to display names and is consulted when URL is empty.
	Static map[string]string `koanf:"static"`
}

// StoreConfig configures the badger-backed local history store.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// GCInterval is how often the value log is garbage collected.
	// Default: 10m
	GCInterval time.Duration `koanf:"gc_interval"`
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// SupervisorConfig holds suture tree settings.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Location resolves the backend time zone. Validate guarantees it loads.
func (c *BackendConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

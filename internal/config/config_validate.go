// Callsync - Telephony Call History Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callsync

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/nyaruka/phonenumbers"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validatePhone(); err != nil {
		return err
	}
	if err := c.validateDirectory(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBackend() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if err := validateHTTPURL(c.Backend.URL, "BACKEND_URL"); err != nil {
		return err
	}
	if c.Backend.Feed != FeedBasic && c.Backend.Feed != FeedCombined {
		return fmt.Errorf("BACKEND_FEED must be one of: basic, combined")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(c.Backend.TimeZone); err != nil {
		return fmt.Errorf("BACKEND_TIME_ZONE is invalid: %w", err)
	}
	if c.Backend.RateLimit <= 0 || c.Backend.RateBurst < 1 {
		return fmt.Errorf("BACKEND_RATE_LIMIT must be positive and BACKEND_RATE_BURST at least 1")
	}
	if c.Backend.RetryAttempts < 1 {
		return fmt.Errorf("BACKEND_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Backend.BreakerFailures == 0 {
		return fmt.Errorf("BACKEND_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %s", c.Sync.Interval)
	}
	for name, d := range map[string]time.Duration{
		"SYNC_INITIAL_DELAY":            c.Sync.InitialDelay,
		"SYNC_CALL_ENDED_DELAY":         c.Sync.CallEndedDelay,
		"SYNC_MISSED_CALL_FIRST_DELAY":  c.Sync.MissedCallFirstDelay,
		"SYNC_MISSED_CALL_SECOND_DELAY": c.Sync.MissedCallSecondDelay,
		"SYNC_CLICK_TO_DIAL_TOLERANCE":  c.Sync.ClickToDialTolerance,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Sync.WorkerQueue < 1 {
		return fmt.Errorf("SYNC_WORKER_QUEUE must be at least 1")
	}
	return nil
}

func (c *Config) validatePhone() error {
	if c.Phone.DefaultRegion == "" {
		return nil
	}
	if phonenumbers.GetCountryCodeForRegion(c.Phone.DefaultRegion) == 0 {
		return fmt.Errorf("PHONE_DEFAULT_REGION %q is not a known region", c.Phone.DefaultRegion)
	}
	return nil
}

func (c *Config) validateDirectory() error {
	if c.Directory.Timeout <= 0 {
		return fmt.Errorf("DIRECTORY_TIMEOUT must be positive")
	}
	if c.Directory.URL == "" {
		return nil
	}
	if _, err := url.ParseRequestURI(c.Directory.URL); err != nil {
		return fmt.Errorf("DIRECTORY_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required unless STORE_IN_MEMORY=true")
	}
	if c.Store.GCInterval < 0 {
		return fmt.Errorf("STORE_GC_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL checks that rawURL is an absolute http(s) base URL.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}
	return nil
}

// SPDX-License-Identifier: Apache-2.0

// Package config resolves the settings the extraction pipeline needs from
// flags and PGUNMASK_-prefixed environment variables, the way the teacher
// resolves its own connection settings through cmd/flags and viper.
package config

import "fmt"

// Config holds every setting the extract and validate commands need.
type Config struct {
	PostgresURL   string
	Schema        string
	HiddenQuery   string
	KeyGraphPath  string
	LockTimeoutMs int
	MaxAttempts   int
}

// Validate reports a fatal configuration error describing the first missing
// or nonsensical required field, or nil if Config is usable.
func (c Config) Validate() error {
	if c.PostgresURL == "" {
		return fmt.Errorf("config: postgres-url is required")
	}
	if c.Schema == "" {
		return fmt.Errorf("config: schema is required")
	}
	if c.HiddenQuery == "" {
		return fmt.Errorf("config: hidden-query is required")
	}
	if c.KeyGraphPath == "" {
		return fmt.Errorf("config: key-graph is required")
	}
	if c.LockTimeoutMs < 0 {
		return fmt.Errorf("config: lock-timeout must not be negative, got %d", c.LockTimeoutMs)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max-sampling-attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

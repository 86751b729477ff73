// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		PostgresURL:   "postgres://localhost:5432/postgres",
		Schema:        "public",
		HiddenQuery:   "SELECT 1",
		KeyGraphPath:  "keygraph.csv",
		LockTimeoutMs: 500,
		MaxAttempts:   100,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
	}{
		{"postgres url", func(c *Config) { c.PostgresURL = "" }},
		{"schema", func(c *Config) { c.Schema = "" }},
		{"hidden query", func(c *Config) { c.HiddenQuery = "" }},
		{"key graph path", func(c *Config) { c.KeyGraphPath = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateRejectsNegativeLockTimeout(t *testing.T) {
	c := validConfig()
	c.LockTimeoutMs = -1
	assert.Error(t, c.Validate())
}

func TestValidateAcceptsZeroLockTimeout(t *testing.T) {
	c := validConfig()
	c.LockTimeoutMs = 0
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsNonPositiveMaxAttempts(t *testing.T) {
	c := validConfig()
	c.MaxAttempts = 0
	assert.Error(t, c.Validate())

	c.MaxAttempts = -5
	assert.Error(t, c.Validate())
}

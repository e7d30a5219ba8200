/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config reads the process configuration from the
// environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/nsl-labs/router/lib/defaults"
)

// Config is the process configuration. All values come from
// environment variables; FromEnv applies defaults and validation.
type Config struct {
	// ServerDomain is the mesh's apex domain, subdomain labels hang
	// off it.
	ServerDomain string
	// RedisURL locates the ephemeral route store.
	RedisURL string
	// MongoURL locates the identity document store.
	MongoURL string
	// RoutesTTL is the route lease lifetime.
	RoutesTTL time.Duration
	// InactiveDomainDays is the cleanup inactivity threshold.
	InactiveDomainDays int
	// DomainLogPath locates the domain audit log.
	DomainLogPath string
	// CleanupSchedule is the cron expression driving cleanup passes.
	CleanupSchedule string
	// CACertPath and CAKeyPath locate the root CA material.
	CACertPath string
	CAKeyPath  string
	// CertValidity is the leaf certificate lifetime.
	CertValidity time.Duration
	// ServiceAPIKey is the preshared key for token-authenticated
	// endpoints. Empty disables the service key path.
	ServiceAPIKey string
}

// FromEnv builds the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ServerDomain:    os.Getenv("SERVER_DOMAIN"),
		RedisURL:        os.Getenv("REDIS_URL"),
		MongoURL:        os.Getenv("MONGO_URL"),
		DomainLogPath:   os.Getenv("DOMAIN_LOG_PATH"),
		CleanupSchedule: os.Getenv("CLEANUP_CRON_SCHEDULE"),
		CACertPath:      os.Getenv("CA_CERT_PATH"),
		CAKeyPath:       os.Getenv("CA_KEY_PATH"),
		ServiceAPIKey:   os.Getenv("SERVICE_API_KEY"),
	}

	ttlSeconds, err := intEnv("ROUTES_TTL_SECONDS", int(defaults.RoutesTTL.Seconds()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ttlSeconds <= 0 {
		return nil, trace.BadParameter("ROUTES_TTL_SECONDS must be a positive integer, got %v", ttlSeconds)
	}
	cfg.RoutesTTL = time.Duration(ttlSeconds) * time.Second

	if cfg.InactiveDomainDays, err = intEnv("INACTIVE_DOMAIN_DAYS", defaults.InactiveDomainDays); err != nil {
		return nil, trace.Wrap(err)
	}
	validityHours, err := intEnv("CERT_VALIDITY_HOURS", int(defaults.CertValidity.Hours()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cfg.CertValidity = time.Duration(validityHours) * time.Hour

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.ServerDomain == "" {
		return trace.BadParameter("SERVER_DOMAIN is required")
	}
	if c.RedisURL == "" {
		return trace.BadParameter("REDIS_URL is required")
	}
	if c.MongoURL == "" {
		return trace.BadParameter("MONGO_URL is required")
	}
	if c.RoutesTTL <= 0 {
		c.RoutesTTL = defaults.RoutesTTL
	}
	if c.InactiveDomainDays <= 0 {
		c.InactiveDomainDays = defaults.InactiveDomainDays
	}
	if c.DomainLogPath == "" {
		c.DomainLogPath = defaults.DomainLogPath
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = defaults.CleanupSchedule
	}
	if c.CACertPath == "" {
		c.CACertPath = defaults.CACertPath
	}
	if c.CAKeyPath == "" {
		c.CAKeyPath = defaults.CAKeyPath
	}
	if c.CertValidity <= 0 {
		c.CertValidity = defaults.CertValidity
	}
	return nil
}

// intEnv reads an integer environment variable, returning the
// fallback when unset.
func intEnv(name string, fallback int) (int, error) {
	text := os.Getenv(name)
	if text == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, trace.BadParameter("%v must be an integer, got %q", name, text)
	}
	return value, nil
}

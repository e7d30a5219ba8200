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

// Package defaults contains default constants used across the
// nsl-router control plane.
package defaults

import (
	"os"
	"time"
)

const (
	// HTTPListenPort is the default port the REST API listens on.
	HTTPListenPort = 8192

	// BindIP is the default listen address.
	BindIP = "0.0.0.0"

	// RoutesTTL is the default lifetime of one route lease. Agents are
	// expected to refresh at half this interval.
	RoutesTTL = 600 * time.Second

	// InactiveDomainDays is how long a domain owner may stay silent
	// before the cleanup controller releases the label.
	InactiveDomainDays = 30

	// OnlineThreshold bounds how stale a heartbeat may be for the owner
	// to still count as online.
	OnlineThreshold = 120 * time.Second

	// CertValidity is the default leaf certificate lifetime.
	CertValidity = 72 * time.Hour

	// CAValidity is the lifetime of the self-generated root.
	CAValidity = 10 * 365 * 24 * time.Hour

	// CleanupSchedule is the default cron expression for the cleanup
	// controller, daily at 03:00 local time.
	CleanupSchedule = "0 3 * * *"

	// DomainLogPath is the default location of the domain audit log.
	DomainLogPath = "logs/domain-events.log"

	// CACertPath is the default location of the root certificate.
	CACertPath = "ca-cert.pem"

	// CAKeyPath is the default location of the root private key.
	CAKeyPath = "ca-key.pem"

	// IdentityDatabase is the mongo database holding identity documents.
	IdentityDatabase = "nsl"

	// IdentityCollection is the mongo collection holding identity
	// documents, keyed by user id.
	IdentityCollection = "nsl-router"

	// ActivityKey is the redis sorted set tracking last activity per
	// user, scored by millisecond timestamps.
	ActivityKey = "domains:activity"

	// RoutesKeyPrefix prefixes every route lease key.
	RoutesKeyPrefix = "routes:"
)

const (
	// MaxLabelLength is the longest allowed subdomain label.
	MaxLabelLength = 63

	// MinPort and MaxPort bound route ports.
	MinPort = 1
	MaxPort = 65535
)

const (
	// StoreDialTimeout is the dial timeout for the external stores.
	StoreDialTimeout = 5 * time.Second

	// StoreIOTimeout bounds individual store reads and writes so a slow
	// store cannot starve request handlers.
	StoreIOTimeout = 3 * time.Second

	// ReadHeadersTimeout is a default timeout for HTTP headers.
	ReadHeadersTimeout = 10 * time.Second

	// HTTPIdleTimeout is a default timeout for idle HTTP connections.
	HTTPIdleTimeout = 30 * time.Second

	// ShutdownTimeout bounds graceful HTTP server shutdown.
	ShutdownTimeout = 30 * time.Second
)

const (
	// CACertFileMode is the mode of the persisted root certificate.
	CACertFileMode os.FileMode = 0o644

	// CAKeyFileMode is the mode of the persisted root private key.
	CAKeyFileMode os.FileMode = 0o600

	// DirMode is the mode used when creating parent directories.
	DirMode os.FileMode = 0o755

	// LogFileMode is the mode of the domain audit log.
	LogFileMode os.FileMode = 0o644
)

// ReservedLabels can never be allocated as subdomain labels.
var ReservedLabels = map[string]bool{
	"root": true,
	"app":  true,
	"www":  true,
}

const (
	// WildcardNipIO is always included in leaf certificate SANs so
	// agents can terminate TLS on nip.io names during bring-up.
	WildcardNipIO = "*.nip.io"
)

const (
	// RoutesTTLSentinel is returned by the route store when a user has
	// no live lease at all. Mirrors the store's TTL convention for a
	// missing key.
	RoutesTTLSentinel = -2
)

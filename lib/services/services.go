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

// Package services defines the data model and service interfaces of
// the nsl-router control plane.
package services

import (
	"context"
	"time"
)

// Fixed availability messages; the agent CLI matches on them.
const (
	MsgDomainAvailable   = "Domain name is available."
	MsgDomainUnavailable = "Domain name is not available."
)

// Availability is the result of a domain availability check.
type Availability struct {
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

// Identities is the identity registry: the authoritative mapping
// between user ids, subdomain labels and public signing keys.
type Identities interface {
	// GetByID returns the record for a user id, or a NotFound error.
	GetByID(ctx context.Context, userID string) (*IdentityRecord, error)
	// GetByDomain returns the user id and record owning a label, or a
	// NotFound error. Callers lowercase the label at the boundary.
	GetByDomain(ctx context.Context, label string) (string, *IdentityRecord, error)
	// CheckAvailability reports whether a label can be allocated:
	// syntax first, then the reserved set, then ownership.
	CheckAvailability(ctx context.Context, label string) (*Availability, error)
	// Upsert merge-writes a partial update, creating the record if
	// needed. Rejects empty updates and labels owned by someone else.
	Upsert(ctx context.Context, userID string, update *IdentityUpdate) error
	// Delete removes the record entirely.
	Delete(ctx context.Context, userID string) error
	// ClearDomainAssignment unsets the domain name and public key while
	// keeping the record.
	ClearDomainAssignment(ctx context.Context, userID string) error
	// TouchHeartbeat stamps LastSeenOnline and returns the timestamp.
	// Fails with NotFound if the record does not exist.
	TouchHeartbeat(ctx context.Context, userID string) (time.Time, error)
	// TouchRouteRegistration stamps LastRouteRegistration.
	TouchRouteRegistration(ctx context.Context, userID string) (time.Time, error)
}

// Routes is the ephemeral, lease-based route registry.
type Routes interface {
	// Register validates and stores a batch of routes, replacing the
	// caller's prior lease per source and refreshing its TTL.
	Register(ctx context.Context, userID string, routes []Route) error
	// GetRoutes returns every live route for a user across sources, or
	// nil when every lease has expired.
	GetRoutes(ctx context.Context, userID string) ([]Route, error)
	// DeleteRoutes drops every lease of a user.
	DeleteRoutes(ctx context.Context, userID string) error
	// GetRoutesTTL returns the minimum positive remaining TTL in
	// seconds across the user's leases, or -2 when no lease exists.
	GetRoutesTTL(ctx context.Context, userID string) (int64, error)
}

// Activity tracks the last registration activity per user so silent
// owners can be reclaimed.
type Activity interface {
	// Update stamps the user's activity with the current time.
	Update(ctx context.Context, userID string) error
	// GetInactiveSince returns users whose last activity is at least
	// the given number of days in the past.
	GetInactiveSince(ctx context.Context, days int) ([]string, error)
	// GetActiveSince returns users active within the given window.
	GetActiveSince(ctx context.Context, days int) ([]string, error)
	// Remove drops the user's activity entry.
	Remove(ctx context.Context, userID string) error
	// GetTimestamp returns the user's last activity in unix
	// milliseconds, or a NotFound error.
	GetTimestamp(ctx context.Context, userID string) (int64, error)
}

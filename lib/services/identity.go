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

package services

import (
	"regexp"
	"time"

	"github.com/gravitational/trace"

	"github.com/nsl-labs/router/lib/defaults"
)

// IdentityRecord is the durable record of one user: the subdomain
// label they own and the public signing key that authenticates every
// mutation they make.
type IdentityRecord struct {
	// DomainName is the subdomain label owned by this user, unique
	// across all records when present.
	DomainName string `json:"domainName,omitempty" bson:"domainName,omitempty"`
	// ServerDomain is informational only and ignored on reads.
	ServerDomain string `json:"serverDomain,omitempty" bson:"serverDomain,omitempty"`
	// PublicKey is the user's Ed25519 verification key in text form.
	PublicKey string `json:"publicKey,omitempty" bson:"publicKey,omitempty"`
	// LastSeenOnline is updated by the heartbeat operation.
	LastSeenOnline *time.Time `json:"lastSeenOnline,omitempty" bson:"lastSeenOnline,omitempty"`
	// LastRouteRegistration is updated by the route register operation.
	LastRouteRegistration *time.Time `json:"lastRouteRegistration,omitempty" bson:"lastRouteRegistration,omitempty"`
}

// Online reports whether the record's owner counts as online at the
// given instant. A missing heartbeat means offline.
func (r *IdentityRecord) Online(now time.Time, threshold time.Duration) bool {
	if r.LastSeenOnline == nil {
		return false
	}
	return now.Sub(*r.LastSeenOnline) <= threshold
}

// IdentityUpdate is a partial, merge-written update of an identity
// record. Nil fields are left untouched.
type IdentityUpdate struct {
	DomainName            *string
	ServerDomain          *string
	PublicKey             *string
	LastSeenOnline        *time.Time
	LastRouteRegistration *time.Time
}

// IsEmpty reports whether the update carries no fields at all.
func (u *IdentityUpdate) IsEmpty() bool {
	return u.DomainName == nil && u.ServerDomain == nil && u.PublicKey == nil &&
		u.LastSeenOnline == nil && u.LastRouteRegistration == nil
}

var labelRegexp = regexp.MustCompile(`^[a-z0-9]+$`)

// ValidateLabel checks subdomain label syntax: lowercase letters and
// digits only, 1 to 63 characters.
func ValidateLabel(label string) error {
	if label == "" {
		return trace.BadParameter("domain name is empty")
	}
	if len(label) > defaults.MaxLabelLength {
		return trace.BadParameter("domain name %q exceeds %v characters", label, defaults.MaxLabelLength)
	}
	if !labelRegexp.MatchString(label) {
		return trace.BadParameter("domain name %q must contain only lowercase letters and digits", label)
	}
	return nil
}

// IsReservedLabel reports whether a label can never be allocated.
func IsReservedLabel(label string) bool {
	return defaults.ReservedLabels[label]
}

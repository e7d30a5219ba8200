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

package identity

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/nsl-labs/router/lib/services"
)

// MemoryRegistry implements services.Identities in process memory.
// It backs tests and --dev runs with the same contract as the mongo
// registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]*services.IdentityRecord
	clock   clockwork.Clock
}

// NewMemoryRegistry returns an empty in-memory registry.
func NewMemoryRegistry(clock clockwork.Clock) *MemoryRegistry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRegistry{
		records: make(map[string]*services.IdentityRecord),
		clock:   clock,
	}
}

// GetByID returns the record for a user id.
func (r *MemoryRegistry) GetByID(ctx context.Context, userID string) (*services.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	if !ok {
		return nil, trace.NotFound("user %q not found", userID)
	}
	out := *rec
	return &out, nil
}

// GetByDomain returns the user id and record owning a label.
func (r *MemoryRegistry) GetByDomain(ctx context.Context, label string) (string, *services.IdentityRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for userID, rec := range r.records {
		if rec.DomainName != "" && rec.DomainName == label {
			out := *rec
			return userID, &out, nil
		}
	}
	return "", nil, trace.NotFound("domain %q not found", label)
}

// CheckAvailability reports whether a label can be allocated.
func (r *MemoryRegistry) CheckAvailability(ctx context.Context, label string) (*services.Availability, error) {
	return checkAvailability(ctx, r, label)
}

// Upsert merge-writes a partial update, creating the record if needed.
func (r *MemoryRegistry) Upsert(ctx context.Context, userID string, update *services.IdentityUpdate) error {
	if update == nil || update.IsEmpty() {
		return trace.BadParameter("empty identity update for user %q", userID)
	}
	if update.DomainName != nil && *update.DomainName != "" {
		if err := checkDomainOwnership(ctx, r, userID, *update.DomainName); err != nil {
			return trace.Wrap(err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		rec = &services.IdentityRecord{}
		r.records[userID] = rec
	}
	if update.DomainName != nil {
		rec.DomainName = *update.DomainName
	}
	if update.ServerDomain != nil {
		rec.ServerDomain = *update.ServerDomain
	}
	if update.PublicKey != nil {
		rec.PublicKey = *update.PublicKey
	}
	if update.LastSeenOnline != nil {
		t := *update.LastSeenOnline
		rec.LastSeenOnline = &t
	}
	if update.LastRouteRegistration != nil {
		t := *update.LastRouteRegistration
		rec.LastRouteRegistration = &t
	}
	return nil
}

// Delete removes the record entirely.
func (r *MemoryRegistry) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[userID]; !ok {
		return trace.NotFound("user %q not found", userID)
	}
	delete(r.records, userID)
	return nil
}

// ClearDomainAssignment unsets the domain name and public key while
// keeping the record.
func (r *MemoryRegistry) ClearDomainAssignment(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return trace.NotFound("user %q not found", userID)
	}
	rec.DomainName = ""
	rec.PublicKey = ""
	return nil
}

// TouchHeartbeat stamps LastSeenOnline with the current time.
func (r *MemoryRegistry) TouchHeartbeat(ctx context.Context, userID string) (time.Time, error) {
	return r.touch(userID, func(rec *services.IdentityRecord, now time.Time) {
		rec.LastSeenOnline = &now
	})
}

// TouchRouteRegistration stamps LastRouteRegistration.
func (r *MemoryRegistry) TouchRouteRegistration(ctx context.Context, userID string) (time.Time, error) {
	return r.touch(userID, func(rec *services.IdentityRecord, now time.Time) {
		rec.LastRouteRegistration = &now
	})
}

func (r *MemoryRegistry) touch(userID string, set func(*services.IdentityRecord, time.Time)) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return time.Time{}, trace.NotFound("user %q not found", userID)
	}
	now := r.clock.Now().UTC()
	set(rec, now)
	return now, nil
}

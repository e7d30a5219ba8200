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

// Package routestore implements the ephemeral route lease registry and
// the activity tracker on top of the redis store.
package routestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/services"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

var registrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "router_route_registrations_total",
	Help: "Number of accepted route registration batches.",
})

func init() {
	prometheus.MustRegister(registrationsTotal)
}

// Store implements services.Routes over redis. One lease is one key
// routes:{userId}:{source} holding a JSON array of routes with its own
// TTL.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	// activity is stamped after every committed registration, before
	// any other write for the same call.
	activity services.Activity
	log      *slog.Logger

	// knownSources is populated lazily as sources register. A fresh
	// process does not enumerate the backend with wildcard scans; it
	// self-heals as sources refresh at TTL/2 cadence.
	mu           sync.RWMutex
	knownSources map[string]struct{}
}

// Config configures a Store.
type Config struct {
	// Client is the redis client, shared with the activity tracker.
	Client redis.UniversalClient
	// TTL is the lease lifetime, default 600s.
	TTL time.Duration
	// Activity is stamped after each committed registration.
	Activity services.Activity
	// Log overrides the package logger.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing parameter Client")
	}
	if c.Activity == nil {
		return trace.BadParameter("missing parameter Activity")
	}
	if c.TTL <= 0 {
		c.TTL = defaults.RoutesTTL
	}
	if c.Log == nil {
		c.Log = logutils.NewPackageLogger(router.ComponentKey, router.ComponentRoutes)
	}
	return nil
}

// NewStore returns a route lease store backed by the given client.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Store{
		client:       cfg.Client,
		ttl:          cfg.TTL,
		activity:     cfg.Activity,
		log:          cfg.Log,
		knownSources: make(map[string]struct{}),
	}, nil
}

func routesKey(userID, source string) string {
	return defaults.RoutesKeyPrefix + userID + ":" + source
}

// Register validates and stores a batch of routes. The batch wholly
// replaces the caller's prior lease for each source it mentions;
// leases from other sources keep their TTLs.
func (s *Store) Register(ctx context.Context, userID string, routes []services.Route) error {
	if len(routes) == 0 {
		return trace.BadParameter("no routes to register")
	}
	for i := range routes {
		if err := routes[i].CheckAndSetDefaults(); err != nil {
			return trace.Wrap(err)
		}
	}

	bySource := make(map[string][]services.Route)
	var sources []string
	for _, route := range routes {
		if _, ok := bySource[route.Source]; !ok {
			sources = append(sources, route.Source)
		}
		bySource[route.Source] = append(bySource[route.Source], route)
	}

	// One pipeline so expiry windows across sources in this call are
	// aligned.
	pipe := s.client.Pipeline()
	for _, source := range sources {
		lease := services.DedupRoutes(bySource[source])
		payload, err := json.Marshal(lease)
		if err != nil {
			return trace.Wrap(err)
		}
		pipe.Set(ctx, routesKey(userID, source), payload, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return trace.Wrap(err)
	}

	s.rememberSources(sources)
	registrationsTotal.Inc()

	if err := s.activity.Update(ctx, userID); err != nil {
		// The lease is already committed; activity loss only delays
		// cleanup by one cycle.
		s.log.WarnContext(ctx, "Failed to update activity tracker.",
			"user", userID, "error", err)
	}
	return nil
}

// GetRoutes returns every live route for a user across known sources,
// or nil when every lease has expired.
func (s *Store) GetRoutes(ctx context.Context, userID string) ([]services.Route, error) {
	keys := s.sourceKeys(userID)
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var out []services.Route
	for i, value := range values {
		if value == nil {
			continue
		}
		payload, ok := value.(string)
		if !ok {
			return nil, trace.BadParameter("unexpected value type %T under %v", value, keys[i])
		}
		var lease []services.Route
		if err := json.Unmarshal([]byte(payload), &lease); err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, lease...)
	}
	return out, nil
}

// DeleteRoutes drops every lease of a user.
func (s *Store) DeleteRoutes(ctx context.Context, userID string) error {
	keys := s.sourceKeys(userID)
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// GetRoutesTTL returns the minimum positive remaining TTL in seconds
// across the user's leases, or -2 when no lease exists.
func (s *Store) GetRoutesTTL(ctx context.Context, userID string) (int64, error) {
	minTTL := int64(defaults.RoutesTTLSentinel)
	for _, key := range s.sourceKeys(userID) {
		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil {
			return 0, trace.Wrap(err)
		}
		if ttl <= 0 {
			continue
		}
		seconds := int64(ttl / time.Second)
		if minTTL == defaults.RoutesTTLSentinel || seconds < minTTL {
			minTTL = seconds
		}
	}
	return minTTL, nil
}

func (s *Store) rememberSources(sources []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, source := range sources {
		s.knownSources[source] = struct{}{}
	}
}

// sourceKeys returns the user's lease keys for every known source, in
// a stable order so concatenated reads are deterministic.
func (s *Store) sourceKeys(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.knownSources))
	for source := range s.knownSources {
		keys = append(keys, routesKey(userID, source))
	}
	sort.Strings(keys)
	return keys
}

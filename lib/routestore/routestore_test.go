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

package routestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/services"
)

type testPack struct {
	mr       *miniredis.Miniredis
	store    *Store
	activity *ActivityTracker
	clock    *clockwork.FakeClock
}

func newTestPack(t *testing.T, ttl time.Duration) *testPack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	activity, err := NewActivityTracker(client, clock)
	require.NoError(t, err)

	store, err := NewStore(Config{
		Client:   client,
		TTL:      ttl,
		Activity: activity,
	})
	require.NoError(t, err)

	return &testPack{mr: mr, store: store, activity: activity, clock: clock}
}

func TestRegisterAndGetRoutes(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	in := []services.Route{{IP: "10.77.0.100", Port: 443, Priority: 1, Source: "agent"}}
	require.NoError(t, p.store.Register(ctx, "u1", in))

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	expected := []services.Route{{
		IP: "10.77.0.100", Port: 443, Priority: 1, Source: "agent",
		Scheme: services.SchemeHTTPS, Type: services.RouteTypeIP,
	}}
	require.Empty(t, cmp.Diff(expected, routes))
}

func TestRegisterReplacesLease(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "10.77.0.100", Port: 443, Priority: 1, Source: "agent"},
	}))
	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "2.2.2.2", Port: 443, Priority: 1, Source: "agent"},
	}))

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, "2.2.2.2", routes[0].IP)
}

func TestRegisterSourcesIndependent(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Priority: 1, Source: "agent"},
		{IP: "2.2.2.2", Port: 8443, Priority: 2, Source: "tunnel"},
	}))

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, routes, 2)

	// Re-registering one source leaves the other lease untouched.
	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "3.3.3.3", Port: 443, Priority: 1, Source: "agent"},
	}))

	routes, err = p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	var ips []string
	for _, r := range routes {
		ips = append(ips, r.IP)
	}
	require.ElementsMatch(t, []string{"3.3.3.3", "2.2.2.2"}, ips)
}

func TestRegisterDoesNotRefreshOtherSourceTTL(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 600*time.Second)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
		{IP: "2.2.2.2", Port: 443, Source: "tunnel"},
	}))

	p.mr.FastForward(300 * time.Second)
	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
	}))

	// The tunnel lease is halfway to expiry, the agent lease is fresh.
	ttl, err := p.store.GetRoutesTTL(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(300), ttl)
	require.Equal(t, 600*time.Second, p.mr.TTL(routesKey("u1", "agent")))
}

func TestRegisterRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 600*time.Second)

	batch := []services.Route{{IP: "1.1.1.1", Port: 443, Source: "agent"}}
	require.NoError(t, p.store.Register(ctx, "u1", batch))
	p.mr.FastForward(400 * time.Second)
	require.NoError(t, p.store.Register(ctx, "u1", batch))

	ttl, err := p.store.GetRoutesTTL(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(600), ttl)
}

func TestRoutesExpire(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 2*time.Second)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
	}))
	p.mr.FastForward(3 * time.Second)

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, routes)

	ttl, err := p.store.GetRoutesTTL(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(defaults.RoutesTTLSentinel), ttl)
}

func TestGetRoutesTTLSentinelWithoutLease(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	ttl, err := p.store.GetRoutesTTL(ctx, "nobody")
	require.NoError(t, err)
	require.Equal(t, int64(defaults.RoutesTTLSentinel), ttl)
}

func TestDeleteRoutesIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
	}))
	require.NoError(t, p.store.DeleteRoutes(ctx, "u1"))
	require.NoError(t, p.store.DeleteRoutes(ctx, "u1"))

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, routes)
}

func TestRegisterValidatesWholeBatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	err := p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
		{IP: "not-an-ip", Port: 443, Source: "agent"},
	})
	require.True(t, trace.IsBadParameter(err))

	// Nothing from the rejected batch may land.
	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, routes)
}

func TestRegisterRejectsMissingSource(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	err := p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
		{IP: "2.2.2.2", Port: 443},
	})
	require.True(t, trace.IsBadParameter(err))
}

func TestRegisterRejectsEmptyBatch(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)
	require.True(t, trace.IsBadParameter(p.store.Register(ctx, "u1", nil)))
}

func TestRegisterDedupsWithinLease(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Priority: 1, Source: "agent"},
		{IP: "1.1.1.1", Port: 443, Priority: 7, Source: "agent"},
	}))

	routes, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	require.Equal(t, 7, routes[0].Priority)
}

func TestRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	batch := []services.Route{{IP: "1.1.1.1", Port: 443, Source: "agent"}}
	require.NoError(t, p.store.Register(ctx, "u1", batch))
	first, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, p.store.Register(ctx, "u1", batch))
	second, err := p.store.GetRoutes(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(first, second))
}

func TestRegisterUpdatesActivity(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.store.Register(ctx, "u1", []services.Route{
		{IP: "1.1.1.1", Port: 443, Source: "agent"},
	}))

	ts, err := p.activity.GetTimestamp(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, p.clock.Now().UnixMilli(), ts)
}

func TestActivityTracker(t *testing.T) {
	ctx := context.Background()
	p := newTestPack(t, 0)

	require.NoError(t, p.activity.Update(ctx, "old"))
	p.clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, p.activity.Update(ctx, "fresh"))

	inactive, err := p.activity.GetInactiveSince(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, inactive)

	active, err := p.activity.GetActiveSince(ctx, 30)
	require.NoError(t, err)
	require.Equal(t, []string{"fresh"}, active)

	// Updating re-scores the member.
	require.NoError(t, p.activity.Update(ctx, "old"))
	inactive, err = p.activity.GetInactiveSince(ctx, 30)
	require.NoError(t, err)
	require.Empty(t, inactive)

	require.NoError(t, p.activity.Remove(ctx, "old"))
	_, err = p.activity.GetTimestamp(ctx, "old")
	require.True(t, trace.IsNotFound(err))

	// Removal is idempotent.
	require.NoError(t, p.activity.Remove(ctx, "old"))
}

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
	"errors"
	"strconv"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/nsl-labs/router/lib/defaults"
)

const millisPerDay = 24 * 60 * 60 * 1000

// ActivityTracker implements services.Activity over a redis sorted
// set whose score is a millisecond timestamp and member is a user id.
type ActivityTracker struct {
	client redis.UniversalClient
	clock  clockwork.Clock
}

// NewActivityTracker returns a tracker over the domains:activity set.
func NewActivityTracker(client redis.UniversalClient, clock clockwork.Clock) (*ActivityTracker, error) {
	if client == nil {
		return nil, trace.BadParameter("missing parameter client")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ActivityTracker{client: client, clock: clock}, nil
}

// Update overwrites the user's score with the current time.
func (t *ActivityTracker) Update(ctx context.Context, userID string) error {
	err := t.client.ZAdd(ctx, defaults.ActivityKey, redis.Z{
		Score:  float64(t.clock.Now().UnixMilli()),
		Member: userID,
	}).Err()
	return trace.Wrap(err)
}

// GetInactiveSince returns users whose last activity is at least the
// given number of days in the past.
func (t *ActivityTracker) GetInactiveSince(ctx context.Context, days int) ([]string, error) {
	cutoff := t.clock.Now().UnixMilli() - int64(days)*millisPerDay
	members, err := t.client.ZRangeByScore(ctx, defaults.ActivityKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	return members, trace.Wrap(err)
}

// GetActiveSince returns users active within the given window.
func (t *ActivityTracker) GetActiveSince(ctx context.Context, days int) ([]string, error) {
	cutoff := t.clock.Now().UnixMilli() - int64(days)*millisPerDay
	members, err := t.client.ZRangeByScore(ctx, defaults.ActivityKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	return members, trace.Wrap(err)
}

// Remove drops the user's activity entry.
func (t *ActivityTracker) Remove(ctx context.Context, userID string) error {
	return trace.Wrap(t.client.ZRem(ctx, defaults.ActivityKey, userID).Err())
}

// GetTimestamp returns the user's last activity in unix milliseconds.
func (t *ActivityTracker) GetTimestamp(ctx context.Context, userID string) (int64, error) {
	score, err := t.client.ZScore(ctx, defaults.ActivityKey, userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, trace.NotFound("no activity for user %q", userID)
		}
		return 0, trace.Wrap(err)
	}
	return int64(score), nil
}

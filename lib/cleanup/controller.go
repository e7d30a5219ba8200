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

// Package cleanup reclaims subdomain labels from users who stopped
// registering routes. It runs on a cron schedule and on demand from
// the administrative API.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/defaults"
	"github.com/nsl-labs/router/lib/events"
	"github.com/nsl-labs/router/lib/services"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

var domainsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "router_domains_released_total",
	Help: "Number of domain labels released by cleanup passes.",
})

func init() {
	prometheus.MustRegister(domainsReleasedTotal)
}

// Result summarizes one cleanup pass.
type Result struct {
	// ReleasedCount is the number of labels released.
	ReleasedCount int `json:"releasedCount"`
	// Domains lists the released labels.
	Domains []string `json:"domains"`
}

// Controller runs cleanup passes over the activity tracker.
type Controller struct {
	identities   services.Identities
	activity     services.Activity
	domainLog    *events.DomainLog
	inactiveDays int
	clock        clockwork.Clock
	log          *slog.Logger
}

// Config configures the cleanup controller.
type Config struct {
	// Identities is the identity registry.
	Identities services.Identities
	// Activity is the per-user activity tracker.
	Activity services.Activity
	// DomainLog receives RELEASED audit lines, may be nil.
	DomainLog *events.DomainLog
	// InactiveDays is the inactivity threshold, default 30.
	InactiveDays int
	// Clock overrides the time source, used in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.Identities == nil {
		return trace.BadParameter("missing parameter Identities")
	}
	if c.Activity == nil {
		return trace.BadParameter("missing parameter Activity")
	}
	if c.InactiveDays <= 0 {
		c.InactiveDays = defaults.InactiveDomainDays
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewController returns a cleanup controller.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Controller{
		identities:   cfg.Identities,
		activity:     cfg.Activity,
		domainLog:    cfg.DomainLog,
		inactiveDays: cfg.InactiveDays,
		clock:        cfg.Clock,
		log:          logutils.NewPackageLogger(router.ComponentKey, router.ComponentCleanup),
	}, nil
}

// Run executes one cleanup pass. Each inactive user is processed
// independently; a failure for one user is logged and does not abort
// the others, so the pass can be re-run safely.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	userIDs, err := c.activity.GetInactiveSince(ctx, c.inactiveDays)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c.log.InfoContext(ctx, "Starting cleanup pass.",
		"threshold_days", c.inactiveDays, "inactive_users", len(userIDs))

	result := &Result{Domains: []string{}}
	for _, userID := range userIDs {
		label, err := c.releaseUser(ctx, userID)
		if err != nil {
			c.log.WarnContext(ctx, "Failed to release inactive user, will retry next pass.",
				"user", userID, "error", err)
			continue
		}
		if label != "" {
			result.Domains = append(result.Domains, label)
		}
	}
	result.ReleasedCount = len(result.Domains)
	domainsReleasedTotal.Add(float64(result.ReleasedCount))

	c.log.InfoContext(ctx, "Cleanup pass finished.",
		"released", result.ReleasedCount, "domains", result.Domains)
	return result, nil
}

// releaseUser reclaims one user's label. It returns the released
// label, or empty when the user had nothing to release.
func (c *Controller) releaseUser(ctx context.Context, userID string) (string, error) {
	record, err := c.identities.GetByID(ctx, userID)
	if err != nil {
		if !trace.IsNotFound(err) {
			return "", trace.Wrap(err)
		}
		record = nil
	}
	if record == nil || record.DomainName == "" {
		// Stale activity entry with nothing assigned.
		if err := c.activity.Remove(ctx, userID); err != nil {
			return "", trace.Wrap(err)
		}
		return "", nil
	}

	inactiveDays := c.inactiveDays
	if millis, err := c.activity.GetTimestamp(ctx, userID); err == nil {
		elapsed := c.clock.Now().UTC().Sub(time.UnixMilli(millis))
		inactiveDays = int(elapsed.Hours() / 24)
	}

	if c.domainLog != nil {
		if err := c.domainLog.RecordReleased(record.DomainName, userID, inactiveDays); err != nil {
			c.log.WarnContext(ctx, "Failed to write domain audit line.", "error", err)
		}
	}
	if err := c.identities.ClearDomainAssignment(ctx, userID); err != nil {
		return "", trace.Wrap(err)
	}
	if err := c.activity.Remove(ctx, userID); err != nil {
		return "", trace.Wrap(err)
	}
	return record.DomainName, nil
}

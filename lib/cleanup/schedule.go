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

package cleanup

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Schedule is a parsed five-field cron expression
// (minute hour day-of-month month day-of-week) evaluated in the
// process's local time zone.
type Schedule struct {
	expr     string
	schedule cron.Schedule
}

// ParseSchedule parses a standard cron expression supporting "*",
// numbers, lists, ranges, and step values.
func ParseSchedule(expr string) (*Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, trace.BadParameter("invalid cron expression %q: %v", expr, err)
	}
	return &Schedule{expr: expr, schedule: schedule}, nil
}

// String returns the original expression.
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first matching time strictly after t, at minute
// granularity.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run fires fn at every scheduled time until the context is canceled.
// Intended to be called from its own goroutine.
func (s *Schedule) Run(ctx context.Context, clock clockwork.Clock, fn func(context.Context)) {
	for {
		next := s.Next(clock.Now())
		if next.IsZero() {
			return
		}
		timer := clock.NewTimer(next.Sub(clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
			fn(ctx)
		}
	}
}

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

// Package identity implements the identity registry over the external
// document store, plus an in-memory registry for tests and dev runs.
package identity

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/nsl-labs/router/lib/services"
)

// checkAvailability implements the availability check shared by every
// registry implementation. Order matters: syntax, then the reserved
// set, then ownership.
func checkAvailability(ctx context.Context, reg services.Identities, label string) (*services.Availability, error) {
	if err := services.ValidateLabel(label); err != nil {
		return &services.Availability{Available: false, Message: trace.UserMessage(err)}, nil
	}
	if services.IsReservedLabel(label) {
		return &services.Availability{Available: false, Message: services.MsgDomainUnavailable}, nil
	}
	_, _, err := reg.GetByDomain(ctx, label)
	switch {
	case err == nil:
		return &services.Availability{Available: false, Message: services.MsgDomainUnavailable}, nil
	case trace.IsNotFound(err):
		return &services.Availability{Available: true, Message: services.MsgDomainAvailable}, nil
	default:
		return nil, trace.Wrap(err)
	}
}

// checkDomainOwnership returns an error unless the label is unowned or
// already owned by the given user.
func checkDomainOwnership(ctx context.Context, reg services.Identities, userID, label string) error {
	owner, _, err := reg.GetByDomain(ctx, label)
	switch {
	case err == nil:
		if owner != userID {
			return trace.AlreadyExists("domain name %q is not owned by user %q", label, userID)
		}
		return nil
	case trace.IsNotFound(err):
		return nil
	default:
		return trace.Wrap(err)
	}
}

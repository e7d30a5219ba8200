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

// Package auth implements caller authentication: Ed25519 signatures
// over the user id for agent operations, and bearer tokens for the
// administrative endpoints.
package auth

import (
	"context"
	"crypto/ed25519"
	"log/slog"

	"github.com/gravitational/trace"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/services"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

// Result classifies the outcome of a signature check. BadFormat and
// Mismatch are distinguished for forensics only; callers surface both
// as the same generic denial.
type Result int

const (
	// Authenticated means the signature verified against the user's
	// stored public key.
	Authenticated Result = iota
	// BadFormat means the signature text was unparseable.
	BadFormat
	// Mismatch means the signature parsed but failed verification.
	Mismatch
	// UnknownUser means no identity record exists for the user id.
	UnknownUser
)

// String returns a log-friendly result name.
func (r Result) String() string {
	switch r {
	case Authenticated:
		return "authenticated"
	case BadFormat:
		return "bad-format"
	case Mismatch:
		return "mismatch"
	case UnknownUser:
		return "unknown-user"
	default:
		return "invalid"
	}
}

// Authenticator verifies that a caller possesses the private key
// bound to a user id. It never creates identity records.
type Authenticator struct {
	identities services.Identities
	log        *slog.Logger
}

// NewAuthenticator returns a signature authenticator backed by the
// identity registry.
func NewAuthenticator(identities services.Identities) (*Authenticator, error) {
	if identities == nil {
		return nil, trace.BadParameter("missing parameter identities")
	}
	return &Authenticator{
		identities: identities,
		log:        logutils.NewPackageLogger(router.ComponentKey, router.ComponentAuth),
	}, nil
}

// Authenticate checks the signature over the user id bytes. The
// identity record is returned only on success. A non-nil error means
// the registry itself failed; every authentication verdict, including
// denials, comes back as a Result with a nil error.
func (a *Authenticator) Authenticate(ctx context.Context, userID, signature string) (Result, *services.IdentityRecord, error) {
	record, err := a.identities.GetByID(ctx, userID)
	if err != nil {
		if trace.IsNotFound(err) {
			return UnknownUser, nil, nil
		}
		return Mismatch, nil, trace.Wrap(err)
	}

	sig, err := ParseSignatureText(signature)
	if err != nil {
		return BadFormat, nil, nil
	}

	pub, err := ParsePublicKeyText(record.PublicKey)
	if err != nil {
		// A record without a usable key (for example after a domain
		// release) can never authenticate.
		a.log.DebugContext(ctx, "Identity record has no usable public key.", "user", userID)
		return Mismatch, nil, nil
	}

	if !ed25519.Verify(pub, []byte(userID), sig) {
		return Mismatch, nil, nil
	}
	return Authenticated, record, nil
}

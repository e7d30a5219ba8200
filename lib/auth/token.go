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

package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gravitational/trace"
)

// TokenValidator is the secondary, identity-provider-backed token
// path. It is an external collaborator; only the interface ships
// here.
type TokenValidator interface {
	// Validate resolves a bearer token to a user id.
	Validate(ctx context.Context, token string) (string, error)
}

// TokenAuthenticator authenticates the administrative endpoints. The
// bearer header carries either the preshared service key followed by
// ";userId", or an identity-provider token.
type TokenAuthenticator struct {
	serviceKey string
	validator  TokenValidator
}

// NewTokenAuthenticator returns a token authenticator. The validator
// may be nil, in which case only the preshared key path works.
func NewTokenAuthenticator(serviceKey string, validator TokenValidator) *TokenAuthenticator {
	return &TokenAuthenticator{serviceKey: serviceKey, validator: validator}
}

// UserFromRequest resolves the request's bearer token to a user id,
// or returns an AccessDenied error.
func (t *TokenAuthenticator) UserFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", trace.AccessDenied("missing bearer token")
	}

	if key, userID, ok := strings.Cut(token, ";"); ok {
		if t.serviceKey == "" {
			return "", trace.AccessDenied("service key authentication is disabled")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(t.serviceKey)) != 1 {
			return "", trace.AccessDenied("invalid service key")
		}
		if userID == "" {
			return "", trace.AccessDenied("missing user id")
		}
		return userID, nil
	}

	if t.validator == nil {
		return "", trace.AccessDenied("token authentication is not configured")
	}
	userID, err := t.validator.Validate(r.Context(), token)
	if err != nil {
		return "", trace.AccessDenied("invalid token")
	}
	return userID, nil
}

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
	"crypto/ed25519"
	"crypto/rand"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/nsl-labs/router/lib/identity"
	"github.com/nsl-labs/router/lib/services"
)

func newAuthPack(t *testing.T) (*Authenticator, *identity.MemoryRegistry, ed25519.PrivateKey) {
	t.Helper()
	reg := identity.NewMemoryRegistry(nil)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	keyText := MarshalPublicKeyText(pub)
	domain := "alice"
	require.NoError(t, reg.Upsert(context.Background(), "u1", &services.IdentityUpdate{
		DomainName: &domain,
		PublicKey:  &keyText,
	}))

	a, err := NewAuthenticator(reg)
	require.NoError(t, err)
	return a, reg, priv
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, _, priv := newAuthPack(t)

	result, record, err := a.Authenticate(ctx, "u1", SignUserID(priv, "u1"))
	require.NoError(t, err)
	require.Equal(t, Authenticated, result)
	require.NotNil(t, record)
	require.Equal(t, "alice", record.DomainName)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	t.Parallel()
	a, _, priv := newAuthPack(t)

	result, record, err := a.Authenticate(context.Background(), "ghost", SignUserID(priv, "ghost"))
	require.NoError(t, err)
	require.Equal(t, UnknownUser, result)
	require.Nil(t, record)
}

func TestAuthenticateBadFormat(t *testing.T) {
	t.Parallel()
	a, _, _ := newAuthPack(t)

	for _, sig := range []string{"", "!!!not-base64!!!", "c2hvcnQ"} {
		result, record, err := a.Authenticate(context.Background(), "u1", sig)
		require.NoError(t, err)
		require.Equal(t, BadFormat, result, "signature %q", sig)
		require.Nil(t, record)
	}
}

func TestAuthenticateMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, _, priv := newAuthPack(t)

	// Valid signature over the wrong message.
	result, record, err := a.Authenticate(ctx, "u1", SignUserID(priv, "someone-else"))
	require.NoError(t, err)
	require.Equal(t, Mismatch, result)
	require.Nil(t, record)

	// Valid signature from a different key.
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	result, _, err = a.Authenticate(ctx, "u1", SignUserID(otherPriv, "u1"))
	require.NoError(t, err)
	require.Equal(t, Mismatch, result)
}

func TestAuthenticateReleasedKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, reg, priv := newAuthPack(t)

	require.NoError(t, reg.ClearDomainAssignment(ctx, "u1"))

	result, _, err := a.Authenticate(ctx, "u1", SignUserID(priv, "u1"))
	require.NoError(t, err)
	require.Equal(t, Mismatch, result)
}

func TestPublicKeyTextRoundTrip(t *testing.T) {
	t.Parallel()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	parsed, err := ParsePublicKeyText(MarshalPublicKeyText(pub))
	require.NoError(t, err)
	require.Equal(t, pub, parsed)

	_, err = ParsePublicKeyText("dG9vc2hvcnQ=")
	require.True(t, trace.IsBadParameter(err))
}

func TestTokenAuthenticator(t *testing.T) {
	t.Parallel()
	ta := NewTokenAuthenticator("sekrit", nil)

	tests := []struct {
		name      string
		header    string
		wantUser  string
		assertErr require.ErrorAssertionFunc
	}{
		{
			name:      "service key with user",
			header:    "Bearer sekrit;u1",
			wantUser:  "u1",
			assertErr: require.NoError,
		},
		{
			name:      "wrong key",
			header:    "Bearer nope;u1",
			assertErr: require.Error,
		},
		{
			name:      "missing user id",
			header:    "Bearer sekrit;",
			assertErr: require.Error,
		},
		{
			name:      "missing header",
			header:    "",
			assertErr: require.Error,
		},
		{
			name:      "idp token without validator",
			header:    "Bearer some-idp-token",
			assertErr: require.Error,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/domain", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			userID, err := ta.UserFromRequest(r)
			tt.assertErr(t, err)
			if err == nil {
				require.Equal(t, tt.wantUser, userID)
			} else {
				require.True(t, trace.IsAccessDenied(err))
			}
		})
	}
}

type staticValidator struct{ user string }

func (v staticValidator) Validate(ctx context.Context, token string) (string, error) {
	if token == "good" {
		return v.user, nil
	}
	return "", trace.AccessDenied("bad token")
}

func TestTokenAuthenticatorValidator(t *testing.T) {
	t.Parallel()
	ta := NewTokenAuthenticator("sekrit", staticValidator{user: "u9"})

	r := httptest.NewRequest("POST", "/domain", nil)
	r.Header.Set("Authorization", "Bearer good")
	userID, err := ta.UserFromRequest(r)
	require.NoError(t, err)
	require.Equal(t, "u9", userID)

	r.Header.Set("Authorization", "Bearer bad")
	_, err = ta.UserFromRequest(r)
	require.True(t, trace.IsAccessDenied(err))
}

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
	"crypto/ed25519"
	"encoding/base64"

	"github.com/gravitational/trace"
)

// Key and signature text forms. Public keys travel in JSON bodies and
// identity documents as standard base64 of the raw 32 bytes.
// Signatures travel in URL path segments, so they use unpadded
// base64url. Both forms parse deterministically.

// MarshalPublicKeyText serializes an Ed25519 verification key.
func MarshalPublicKeyText(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// ParsePublicKeyText parses the text form of an Ed25519 verification
// key.
func ParsePublicKeyText(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, trace.BadParameter("invalid public key encoding")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, trace.BadParameter("invalid public key length %v", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ParseSignatureText parses the path-safe text form of an Ed25519
// signature.
func ParseSignatureText(s string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, trace.BadParameter("invalid signature encoding")
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, trace.BadParameter("invalid signature length %v", len(raw))
	}
	return raw, nil
}

// SignUserID produces the path-safe signature of a user id. The
// canonical signed message is the user id string itself.
func SignUserID(priv ed25519.PrivateKey, userID string) string {
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(priv, []byte(userID)))
}

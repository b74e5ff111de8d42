// Package crypto provides the signing and hashing helpers used for
// client assertions and token hash claims.
package crypto

import (
	"encoding/json"
	"errors"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// Sign marshals object to JSON and returns it signed in compact
// serialization (base64url(header).base64url(payload).signature).
func Sign(object any, signer jose.Signer) (string, error) {
	payload, err := json.Marshal(object)
	if err != nil {
		return "", err
	}
	return SignPayload(payload, signer)
}

func SignPayload(payload []byte, signer jose.Signer) (string, error) {
	if signer == nil {
		return "", errors.New("missing signer")
	}
	result, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return result.CompactSerialize()
}

// MinHMACKeySize is the minimum HMAC key length in bytes for HS256,
// per RFC 7518, section 3.2.
const MinHMACKeySize = 32

// ErrHMACKeyTooShort is returned when a client secret is too short to
// be used as an HS256 key.
var ErrHMACKeyTooShort = fmt.Errorf("hmac key must be at least %d bytes", MinHMACKeySize)

// HMACSigner returns a jose signer for symmetric HS256 signatures with
// the given secret, typed as JWT. Secrets shorter than MinHMACKeySize
// are rejected before any signing is attempted.
func HMACSigner(secret string) (jose.Signer, error) {
	if len(secret) < MinHMACKeySize {
		return nil, ErrHMACKeyTooShort
	}
	return jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
}

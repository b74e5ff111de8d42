package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"

	jose "github.com/go-jose/go-jose/v4"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// GetHashAlgorithm maps a JWS signature algorithm to the hash used for
// the `at_hash` and `c_hash` claims.
func GetHashAlgorithm(sigAlgorithm jose.SignatureAlgorithm) (hash.Hash, error) {
	switch sigAlgorithm {
	case jose.RS256, jose.ES256, jose.PS256, jose.HS256:
		return sha256.New(), nil
	case jose.RS384, jose.ES384, jose.PS384, jose.HS384:
		return sha512.New384(), nil
	case jose.RS512, jose.ES512, jose.PS512, jose.HS512:
		return sha512.New(), nil
	// ed25519 is the only EdDSA curve supported by go-jose,
	// the agreed hash for it is sha512.
	case jose.EdDSA:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, sigAlgorithm)
	}
}

// HashString hashes s, optionally truncating to the first half of the
// digest as required by the token hash claims, and encodes base64url.
func HashString(hash hash.Hash, s string, firstHalf bool) string {
	if hash == nil {
		return s
	}
	//nolint:errcheck
	hash.Write([]byte(s))
	size := hash.Size()
	if firstHalf {
		size = size / 2
	}
	sum := hash.Sum(nil)[:size]
	return base64.RawURLEncoding.EncodeToString(sum)
}

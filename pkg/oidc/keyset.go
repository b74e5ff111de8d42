package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"

	jose "github.com/go-jose/go-jose/v4"
)

const KeyUseSignature = "sig"

var (
	ErrKeyMultiple = errors.New("multiple possible keys match")
	ErrKeyNone     = errors.New("no possible keys matches")
)

// KeySet represents a set of JSON Web Keys capable of verifying a JWS,
// e.g. keys fetched from the provider's jwks_uri.
type KeySet interface {
	// VerifySignature verifies the signature with the keyset and returns the raw payload.
	VerifySignature(ctx context.Context, jws *jose.JSONWebSignature) (payload []byte, err error)
}

// GetKeyIDAndAlg returns the `kid` and `alg` of the first JWS header.
func GetKeyIDAndAlg(jws *jose.JSONWebSignature) (keyID, alg string) {
	for _, sig := range jws.Signatures {
		return sig.Header.KeyID, sig.Header.Algorithm
	}
	return "", ""
}

// FindMatchingKey searches keys for the requested key ID, usage and
// algorithm type. A key matching all three exactly is returned
// immediately. When either side lacks a kid, a single candidate with
// matching use and algorithm type is accepted; otherwise ErrKeyNone or
// ErrKeyMultiple is returned.
func FindMatchingKey(keyID, use, expectedAlg string, keys ...jose.JSONWebKey) (key jose.JSONWebKey, err error) {
	var validKeys []jose.JSONWebKey
	for _, k := range keys {
		// let pass keys with empty use, some providers omit it
		if k.Use != use && k.Use != "" {
			continue
		}
		if !algToKeyType(k.Key, expectedAlg) {
			continue
		}
		if k.KeyID == keyID && keyID != "" {
			return k, nil
		}
		if k.KeyID == "" || keyID == "" {
			validKeys = append(validKeys, k)
		}
	}
	if len(validKeys) == 1 {
		return validKeys[0], nil
	}
	if len(validKeys) > 1 {
		return key, ErrKeyMultiple
	}
	return key, ErrKeyNone
}

func algToKeyType(key any, alg string) bool {
	if alg == "" {
		return false
	}
	switch alg[0] {
	case 'R', 'P':
		_, ok := key.(*rsa.PublicKey)
		return ok
	case 'E':
		_, ok := key.(*ecdsa.PublicKey)
		return ok
	case 'O':
		_, ok := key.(ed25519.PublicKey)
		return ok
	case 'H':
		_, ok := key.([]byte)
		return ok
	default:
		return false
	}
}

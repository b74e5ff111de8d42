package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeys(t *testing.T) (rsaKey *rsa.PublicKey, ecKey *ecdsa.PublicKey) {
	t.Helper()
	rk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &rk.PublicKey, &ek.PublicKey
}

func TestFindMatchingKey(t *testing.T) {
	rsaKey, ecKey := newTestKeys(t)
	rsaKey2, _ := newTestKeys(t)

	tests := []struct {
		name    string
		keyID   string
		alg     string
		keys    []jose.JSONWebKey
		wantKID string
		wantErr error
	}{
		{
			name:    "no keys",
			keyID:   "kid1",
			alg:     "RS256",
			wantErr: ErrKeyNone,
		},
		{
			name:  "exact kid match",
			keyID: "kid2",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: KeyUseSignature, Key: rsaKey},
				{KeyID: "kid2", Use: KeyUseSignature, Key: rsaKey2},
			},
			wantKID: "kid2",
		},
		{
			name:  "no kid in token, single candidate",
			keyID: "",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: KeyUseSignature, Key: rsaKey},
			},
			wantKID: "kid1",
		},
		{
			name:  "no kid in token, multiple candidates",
			keyID: "",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: KeyUseSignature, Key: rsaKey},
				{KeyID: "kid2", Use: KeyUseSignature, Key: rsaKey2},
			},
			wantErr: ErrKeyMultiple,
		},
		{
			name:  "wrong key type filtered",
			keyID: "",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: KeyUseSignature, Key: ecKey},
			},
			wantErr: ErrKeyNone,
		},
		{
			name:  "ES alg selects ecdsa key",
			keyID: "",
			alg:   "ES256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: KeyUseSignature, Key: rsaKey},
				{KeyID: "kid2", Use: KeyUseSignature, Key: ecKey},
			},
			wantKID: "kid2",
		},
		{
			name:  "encryption keys ignored",
			keyID: "",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Use: "enc", Key: rsaKey},
				{KeyID: "kid2", Use: KeyUseSignature, Key: rsaKey2},
			},
			wantKID: "kid2",
		},
		{
			name:  "empty use passes",
			keyID: "",
			alg:   "RS256",
			keys: []jose.JSONWebKey{
				{KeyID: "kid1", Key: rsaKey},
			},
			wantKID: "kid1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := FindMatchingKey(tt.keyID, KeyUseSignature, tt.alg, tt.keys...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKID, key.KeyID)
		})
	}
}

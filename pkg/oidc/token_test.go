package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDTokenClaims_UnmarshalJSON(t *testing.T) {
	const doc = `{
		"iss": "https://issuer.local",
		"sub": "user1",
		"aud": ["client1", "client2"],
		"exp": 1609459200,
		"nonce": "12345",
		"azp": "client1",
		"email": "tim@local.com",
		"groups": ["admin"]
	}`

	claims := new(IDTokenClaims)
	require.NoError(t, json.Unmarshal([]byte(doc), claims))

	assert.Equal(t, "https://issuer.local", claims.Issuer)
	assert.Equal(t, "user1", claims.Subject)
	assert.Equal(t, Audience{"client1", "client2"}, claims.Audience)
	assert.Equal(t, Time(1609459200), claims.Expiration)
	assert.Equal(t, "12345", claims.Nonce)
	assert.Equal(t, "client1", claims.AuthorizedParty)

	// provider specific claims are retained in the Claims map,
	// alongside the registered ones
	assert.Equal(t, "tim@local.com", claims.Claims["email"])
	assert.Equal(t, []any{"admin"}, claims.Claims["groups"])
	assert.Equal(t, "https://issuer.local", claims.Claims["iss"])
}

func TestIDTokenClaims_MarshalJSON(t *testing.T) {
	claims := &IDTokenClaims{
		Issuer:   "https://issuer.local",
		Subject:  "user1",
		Audience: Audience{"client1"},
		Claims: map[string]any{
			"email": "tim@local.com",
		},
	}
	data, err := json.Marshal(claims)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"iss": "https://issuer.local",
		"sub": "user1",
		"aud": ["client1"],
		"email": "tim@local.com"
	}`, string(data))
}

func TestStripMetadataClaims(t *testing.T) {
	claims := map[string]any{
		"iss":     "https://issuer.local",
		"sub":     "user1",
		"aud":     []any{"client1"},
		"exp":     float64(1609459200),
		"iat":     float64(1609455600),
		"nonce":   "12345",
		"azp":     "client1",
		"at_hash": "abc",
		"email":   "tim@local.com",
		"name":    "Tim",
	}

	got := StripMetadataClaims(claims)

	assert.Equal(t, map[string]any{
		"sub":   "user1",
		"email": "tim@local.com",
		"name":  "Tim",
	}, got)

	// input stays untouched
	assert.Contains(t, claims, "iss")
}

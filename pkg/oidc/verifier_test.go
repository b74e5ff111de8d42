package oidc

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToken(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"https://issuer.local","sub":"user1"}`))

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:    "not three segments",
			token:   "header.payload",
			wantErr: true,
		},
		{
			name:    "payload not base64url",
			token:   "header.$$$$.signature",
			wantErr: true,
		},
		{
			name:    "payload not json",
			token:   "header." + base64.RawURLEncoding.EncodeToString([]byte("no json")) + ".signature",
			wantErr: true,
		},
		{
			name:  "ok",
			token: "header." + payload + ".signature",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := new(IDTokenClaims)
			raw, err := ParseToken(tt.token, claims)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, raw)
			assert.Equal(t, "https://issuer.local", claims.Issuer)
			assert.Equal(t, "user1", claims.Subject)
		})
	}
}

func TestCheckSubject(t *testing.T) {
	err := CheckSubject(&IDTokenClaims{})
	assert.ErrorIs(t, err, ErrSubjectMissing)

	err = CheckSubject(&IDTokenClaims{Subject: "user1"})
	require.NoError(t, err)
}

func TestCheckIssuer(t *testing.T) {
	const issuer = "https://issuer.local"

	tests := []struct {
		name    string
		iss     string
		wantErr error
	}{
		{
			name:    "missing",
			iss:     "",
			wantErr: ErrIssuerInvalid,
		},
		{
			name:    "mismatch",
			iss:     "https://evil.local",
			wantErr: ErrIssuerInvalid,
		},
		{
			name: "exact match",
			iss:  issuer,
		},
		{
			name: "claim with trailing slash",
			iss:  issuer + "/",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIssuer(&IDTokenClaims{Issuer: tt.iss}, issuer)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("expected with trailing slash", func(t *testing.T) {
		err := CheckIssuer(&IDTokenClaims{Issuer: issuer}, issuer+"/")
		require.NoError(t, err)
	})
}

func TestCheckAudience(t *testing.T) {
	const clientID = "unit-client"

	tests := []struct {
		name    string
		aud     Audience
		wantErr error
	}{
		{
			name:    "empty",
			aud:     nil,
			wantErr: ErrAudience,
		},
		{
			name:    "not contained",
			aud:     Audience{"other", "another"},
			wantErr: ErrAudience,
		},
		{
			name: "single value",
			aud:  Audience{clientID},
		},
		{
			name: "contained in list",
			aud:  Audience{"other", clientID},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAudience(&IDTokenClaims{Audience: tt.aud}, clientID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckAuthorizedParty(t *testing.T) {
	const clientID = "unit-client"

	tests := []struct {
		name    string
		claims  *IDTokenClaims
		wantErr error
	}{
		{
			name:   "single audience, no azp",
			claims: &IDTokenClaims{Audience: Audience{clientID}},
		},
		{
			name:    "multiple audiences, no azp",
			claims:  &IDTokenClaims{Audience: Audience{clientID, "other"}},
			wantErr: ErrAzpMissing,
		},
		{
			name:   "multiple audiences, matching azp",
			claims: &IDTokenClaims{Audience: Audience{clientID, "other"}, AuthorizedParty: clientID},
		},
		{
			name:    "azp mismatch",
			claims:  &IDTokenClaims{Audience: Audience{clientID}, AuthorizedParty: "other"},
			wantErr: ErrAzpInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAuthorizedParty(tt.claims, clientID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckExpiration(t *testing.T) {
	tests := []struct {
		name    string
		exp     Time
		offset  time.Duration
		wantErr error
	}{
		{
			name:    "expired",
			exp:     FromTime(time.Now().Add(-time.Hour)),
			wantErr: ErrExpired,
		},
		{
			name: "valid",
			exp:  FromTime(time.Now().Add(time.Hour)),
		},
		{
			name:    "offset pushes over",
			exp:     FromTime(time.Now().Add(time.Minute)),
			offset:  2 * time.Minute,
			wantErr: ErrExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckExpiration(&IDTokenClaims{Expiration: tt.exp}, tt.offset)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckIssuedAt(t *testing.T) {
	tests := []struct {
		name      string
		iat       Time
		maxAgeIAT time.Duration
		offset    time.Duration
		wantErr   error
	}{
		{
			name: "recent",
			iat:  FromTime(time.Now().Add(-time.Minute)),
		},
		{
			name:    "in the future",
			iat:     FromTime(time.Now().Add(time.Hour)),
			wantErr: ErrIatInFuture,
		},
		{
			name:   "future within offset",
			iat:    FromTime(time.Now().Add(2 * time.Second)),
			offset: 5 * time.Second,
		},
		{
			name:      "older than max age",
			iat:       FromTime(time.Now().Add(-time.Hour)),
			maxAgeIAT: time.Minute,
			wantErr:   ErrIatToOld,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIssuedAt(&IDTokenClaims{IssuedAt: tt.iat}, tt.maxAgeIAT, tt.offset)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckNonce(t *testing.T) {
	claims := &IDTokenClaims{Nonce: "12345"}

	require.NoError(t, CheckNonce(claims, "12345"))
	assert.ErrorIs(t, CheckNonce(claims, "54321"), ErrNonceInvalid)
	assert.ErrorIs(t, CheckNonce(&IDTokenClaims{}, "12345"), ErrNonceInvalid)
}

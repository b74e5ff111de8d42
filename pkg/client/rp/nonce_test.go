package rp

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkeep/oidc/pkg/oidc"
)

func testRelyingParty(t *testing.T, options ...Option) RelyingParty {
	t.Helper()
	options = append([]Option{
		WithDiscoveryConfig(&oidc.DiscoveryConfiguration{
			Issuer:                "https://issuer.local",
			AuthorizationEndpoint: "https://issuer.local/authorize",
			TokenEndpoint:         "https://issuer.local/oauth/token",
			JwksURI:               "https://issuer.local/keys",
			ClaimsSupported:       []string{"sub", "nonce"},
		}),
	}, options...)
	rp, err := NewRelyingParty("https://issuer.local", "client1", "secret1", "http://rp.local/callback",
		[]string{oidc.ScopeOpenID}, options...)
	require.NoError(t, err)
	return rp
}

func TestMemoryStateStore(t *testing.T) {
	store := NewMemoryStateStore()

	_, err := store.GetState("missing")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, store.SetState("key", "value"))
	got, err := store.GetState("key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	require.NoError(t, store.RemoveState("key"))
	_, err = store.GetState("key")
	assert.ErrorIs(t, err, ErrStateNotFound)
}

func TestIssueNonce(t *testing.T) {
	store := NewMemoryStateStore()

	nonce, err := IssueNonce(store)
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	stored, err := store.GetState(nonceStateKey)
	require.NoError(t, err)
	assert.Equal(t, nonce, stored)

	// a second issue replaces the first
	second, err := IssueNonce(store)
	require.NoError(t, err)
	assert.NotEqual(t, nonce, second)
}

func TestAttachNonce(t *testing.T) {
	ctx := context.Background()

	t.Run("enabled", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()
		params := url.Values{}

		require.NoError(t, attachNonce(ctx, rp, store, params))
		nonce := params.Get(nonceParam)
		require.NotEmpty(t, nonce)
		stored, err := store.GetState(nonceStateKey)
		require.NoError(t, err)
		assert.Equal(t, nonce, stored)
	})

	t.Run("caller supplied nonce wins", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()
		params := url.Values{nonceParam: []string{"my-own"}}

		require.NoError(t, attachNonce(ctx, rp, store, params))
		assert.Equal(t, "my-own", params.Get(nonceParam))
		_, err := store.GetState(nonceStateKey)
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("disabled", func(t *testing.T) {
		rp := testRelyingParty(t, WithNonceValidation(false))
		store := NewMemoryStateStore()
		params := url.Values{}

		require.NoError(t, attachNonce(ctx, rp, store, params))
		assert.Empty(t, params.Get(nonceParam))
	})

	t.Run("provider does not support nonce", func(t *testing.T) {
		rp, err := NewRelyingParty("https://issuer.local", "client1", "secret1", "http://rp.local/callback",
			[]string{oidc.ScopeOpenID},
			WithDiscoveryConfig(&oidc.DiscoveryConfiguration{
				Issuer:          "https://issuer.local",
				ClaimsSupported: []string{"sub"},
			}),
		)
		require.NoError(t, err)
		store := NewMemoryStateStore()
		params := url.Values{}

		require.NoError(t, attachNonce(ctx, rp, store, params))
		assert.Empty(t, params.Get(nonceParam))
	})
}

func TestCheckNonce(t *testing.T) {
	ctx := context.Background()

	t.Run("match removes stored nonce", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()
		nonce, err := IssueNonce(store)
		require.NoError(t, err)

		claims := &oidc.IDTokenClaims{Nonce: nonce}
		require.NoError(t, checkNonce(ctx, rp, store, claims))

		_, err = store.GetState(nonceStateKey)
		assert.ErrorIs(t, err, ErrStateNotFound)

		// a second token with the same nonce must not pass
		err = checkNonce(ctx, rp, store, claims)
		assert.ErrorIs(t, err, ErrNonceMissing)
	})

	t.Run("mismatch keeps stored nonce", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()
		nonce, err := IssueNonce(store)
		require.NoError(t, err)

		err = checkNonce(ctx, rp, store, &oidc.IDTokenClaims{Nonce: "forged"})
		assert.ErrorIs(t, err, oidc.ErrNonceInvalid)

		stored, err := store.GetState(nonceStateKey)
		require.NoError(t, err)
		assert.Equal(t, nonce, stored, "failed check must not consume the nonce")
	})

	t.Run("token without nonce claim", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()
		_, err := IssueNonce(store)
		require.NoError(t, err)

		err = checkNonce(ctx, rp, store, &oidc.IDTokenClaims{})
		assert.ErrorIs(t, err, ErrNonceMissing)
	})

	t.Run("nothing stored", func(t *testing.T) {
		rp := testRelyingParty(t)
		store := NewMemoryStateStore()

		err := checkNonce(ctx, rp, store, &oidc.IDTokenClaims{Nonce: "12345"})
		assert.ErrorIs(t, err, ErrNonceMissing)
	})

	t.Run("disabled skips all checks", func(t *testing.T) {
		rp := testRelyingParty(t, WithNonceValidation(false))
		store := NewMemoryStateStore()

		require.NoError(t, checkNonce(ctx, rp, store, &oidc.IDTokenClaims{}))
	})
}

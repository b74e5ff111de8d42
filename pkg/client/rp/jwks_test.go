package rp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkeep/oidc/internal/testutil"
	"github.com/authkeep/oidc/pkg/cache"
)

func parseValidToken(t *testing.T, keys *testutil.KeySet) *jose.JSONWebSignature {
	t.Helper()
	token, _ := keys.ValidIDToken()
	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{testutil.SignatureAlgorithm})
	require.NoError(t, err)
	return jws
}

func TestRemoteKeySet_VerifySignature(t *testing.T) {
	keys := testutil.NewKeySet()

	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(keys.WebKeySet())
	}))
	defer server.Close()

	keySet := NewRemoteKeySet(server.Client(), server.URL)

	payload, err := keySet.VerifySignature(context.Background(), parseValidToken(t, keys))
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
	assert.EqualValues(t, 1, fetches.Load())

	// the second verification uses the in-process keys
	_, err = keySet.VerifySignature(context.Background(), parseValidToken(t, keys))
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load())
}

func TestRemoteKeySet_WrongKey(t *testing.T) {
	provider := testutil.NewKeySet()
	attacker := testutil.NewKeySet()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(provider.WebKeySet())
	}))
	defer server.Close()

	keySet := NewRemoteKeySet(server.Client(), server.URL)

	_, err := keySet.VerifySignature(context.Background(), parseValidToken(t, attacker))
	require.Error(t, err)
}

func TestRemoteKeySet_ExternalCache(t *testing.T) {
	keys := testutil.NewKeySet()
	store := cache.NewMemory(time.Minute)

	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(keys.WebKeySet())
	}))
	defer server.Close()

	first := NewRemoteKeySet(server.Client(), server.URL, WithKeySetCache(store, "jwks", time.Minute))
	_, err := first.VerifySignature(context.Background(), parseValidToken(t, keys))
	require.NoError(t, err)
	require.EqualValues(t, 1, fetches.Load())

	// a fresh instance sharing the cache never hits the endpoint
	second := NewRemoteKeySet(server.Client(), server.URL, WithKeySetCache(store, "jwks", time.Minute))
	_, err = second.VerifySignature(context.Background(), parseValidToken(t, keys))
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load())
}

func TestRemoteKeySet_SkipsUnknownKeyTypes(t *testing.T) {
	keys := testutil.NewKeySet()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		known, err := json.Marshal(keys.WebKeySet().Keys[0])
		require.NoError(t, err)
		w.Write([]byte(`{"keys":[{"kty":"XYZ","kid":"future"},` + string(known) + `]}`))
	}))
	defer server.Close()

	keySet := NewRemoteKeySet(server.Client(), server.URL)

	_, err := keySet.VerifySignature(context.Background(), parseValidToken(t, keys))
	require.NoError(t, err)
}

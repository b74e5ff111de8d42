package rp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/authkeep/oidc/pkg/cache"
	"github.com/authkeep/oidc/pkg/client"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

const joseUnknownKeyTypeErrMsg = "go-jose/go-jose: unknown json web key type '"

// NewRemoteKeySet returns a KeySet backed by the provider's jwks_uri.
// Keys are fetched lazily, only when a signature has to be verified,
// and are kept in-process. An external cache can additionally be
// attached with WithKeySetCache to share fetched sets across instances.
func NewRemoteKeySet(client *http.Client, jwksURL string, opts ...RemoteKeySetOption) oidc.KeySet {
	keyset := &remoteKeySet{httpClient: client, jwksURL: jwksURL}
	for _, opt := range opts {
		opt(keyset)
	}
	return keyset
}

type RemoteKeySetOption func(*remoteKeySet)

// WithKeySetCache persists fetched key sets in store under cacheKey
// with the given expiry. The key set entry is written wholesale, never
// partially updated.
func WithKeySetCache(store cache.Cache, cacheKey string, ttl time.Duration) RemoteKeySetOption {
	return func(set *remoteKeySet) {
		set.cache = store
		set.cacheKey = cacheKey
		set.cacheTTL = ttl
	}
}

// SkipRemoteCheck suppresses re-fetching remote keys when signature
// validation fails with cached keys and the JWT carries no kid header.
// Useful when the provider publishes a single key only.
func SkipRemoteCheck() RemoteKeySetOption {
	return func(set *remoteKeySet) {
		set.skipRemoteCheck = true
	}
}

type remoteKeySet struct {
	jwksURL         string
	httpClient      *http.Client
	defaultAlg      string
	skipRemoteCheck bool

	cache    cache.Cache
	cacheKey string
	cacheTTL time.Duration

	// guard all other fields
	mu sync.Mutex

	// inflight suppresses parallel fetches and lets multiple
	// goroutines wait for one result.
	inflight *inflight

	cachedKeys []jose.JSONWebKey
}

type inflight struct {
	doneCh chan struct{}

	keys []jose.JSONWebKey
	err  error
}

func newInflight() *inflight {
	return &inflight{doneCh: make(chan struct{})}
}

func (i *inflight) wait() <-chan struct{} {
	return i.doneCh
}

// done may only be called once, by the goroutine owning the fetch.
func (i *inflight) done(keys []jose.JSONWebKey, err error) {
	i.keys = keys
	i.err = err
	close(i.doneCh)
}

func (i *inflight) result() ([]jose.JSONWebKey, error) {
	return i.keys, i.err
}

func (r *remoteKeySet) VerifySignature(ctx context.Context, jws *jose.JSONWebSignature) ([]byte, error) {
	ctx, span := client.Tracer.Start(ctx, "VerifySignature")
	defer span.End()

	keyID, alg := oidc.GetKeyIDAndAlg(jws)
	if alg == "" {
		alg = r.defaultAlg
	}
	payload, err := r.verifySignatureCached(jws, keyID, alg)
	if payload != nil {
		return payload, nil
	}
	if err != nil {
		return nil, err
	}
	return r.verifySignatureRemote(ctx, jws, keyID, alg)
}

// verifySignatureCached tries the in-process keys first. It only errors
// when validation failed against an exact kid match (or both sides lack
// a kid and skipRemoteCheck is set); otherwise it reports nothing so
// the remote keys get loaded.
func (r *remoteKeySet) verifySignatureCached(jws *jose.JSONWebSignature, keyID, alg string) ([]byte, error) {
	keys := r.keysFromCache()
	if len(keys) == 0 {
		return nil, nil
	}
	key, err := oidc.FindMatchingKey(keyID, oidc.KeyUseSignature, alg, keys...)
	if err != nil {
		// no key or multiple found, try with remote keys
		return nil, nil //nolint:nilerr
	}
	payload, err := jws.Verify(&key)
	if payload != nil {
		return payload, nil
	}
	if !r.exactMatch(key.KeyID, keyID) {
		return nil, nil
	}
	return nil, fmt.Errorf("signature verification failed: %w", err)
}

func (r *remoteKeySet) exactMatch(jwkID, jwsID string) bool {
	if jwkID == "" && jwsID == "" {
		return r.skipRemoteCheck
	}
	return jwkID == jwsID
}

func (r *remoteKeySet) verifySignatureRemote(ctx context.Context, jws *jose.JSONWebSignature, keyID, alg string) ([]byte, error) {
	ctx, span := client.Tracer.Start(ctx, "verifySignatureRemote")
	defer span.End()

	keys, err := r.keysFromRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch key for signature validation: %w", err)
	}
	key, err := oidc.FindMatchingKey(keyID, oidc.KeyUseSignature, alg, keys...)
	if err != nil {
		return nil, fmt.Errorf("unable to validate signature: %w", err)
	}
	payload, err := jws.Verify(&key)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	return payload, nil
}

func (r *remoteKeySet) keysFromCache() (keys []jose.JSONWebKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cachedKeys
}

// keysFromRemote syncs the key set from the external cache or the
// jwks_uri, records it in-process, and returns it.
func (r *remoteKeySet) keysFromRemote(ctx context.Context) ([]jose.JSONWebKey, error) {
	ctx, span := client.Tracer.Start(ctx, "keysFromRemote")
	defer span.End()

	r.mu.Lock()
	if r.inflight == nil {
		r.inflight = newInflight()

		// this goroutine owns the fetch and frees the inflight
		// field once done
		go r.updateKeys(ctx)
	}
	inflight := r.inflight
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-inflight.wait():
		return inflight.result()
	}
}

func (r *remoteKeySet) updateKeys(ctx context.Context) {
	ctx, span := client.Tracer.Start(ctx, "updateKeys")
	defer span.End()

	keys, err := r.fetchKeys(ctx)

	r.inflight.done(keys, err)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		r.cachedKeys = keys
	}

	// free inflight so a later request can fetch again
	r.inflight = nil
}

// fetchKeys consults the external cache before going to the jwks_uri.
// Freshly fetched documents are written back wholesale with the
// configured expiry.
func (r *remoteKeySet) fetchKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	if r.cache != nil {
		if raw, ok := r.cache.Get(ctx, r.cacheKey); ok {
			keySet := new(jsonWebKeySet)
			if err := json.Unmarshal(raw, keySet); err == nil {
				return keySet.Keys, nil
			}
			// fall through to a fresh fetch on decode errors
		}
	}
	keys, raw, err := r.fetchRemoteKeys(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, r.cacheKey, raw, r.cacheTTL); err != nil {
			logFromContext(ctx).Warn("failed to cache key set", "error", err)
		}
	}
	return keys, nil
}

func (r *remoteKeySet) fetchRemoteKeys(ctx context.Context) ([]jose.JSONWebKey, []byte, error) {
	ctx, span := client.Tracer.Start(ctx, "fetchRemoteKeys")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc: can't create request: %v", err)
	}

	keySet := new(jsonWebKeySet)
	if err = httphelper.HttpRequest(r.httpClient, req, keySet); err != nil {
		return nil, nil, fmt.Errorf("oidc: failed to get keys: %v", err)
	}
	raw, err := json.Marshal(keySet)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc: failed to marshal keys: %v", err)
	}
	return keySet.Keys, raw, nil
}

// jsonWebKeySet is an alias for jose.JSONWebKeySet which skips keys of
// unknown type (kty) instead of failing the whole set.
type jsonWebKeySet jose.JSONWebKeySet

func (k *jsonWebKeySet) UnmarshalJSON(data []byte) (err error) {
	var raw rawJSONWebKeySet
	err = json.Unmarshal(data, &raw)
	if err != nil {
		return fmt.Errorf("oidc: failed to unmarshal key set: %w", err)
	}
	for i, key := range raw.Keys {
		webKey := new(jose.JSONWebKey)
		if err = webKey.UnmarshalJSON(key); err != nil {
			if strings.HasPrefix(err.Error(), joseUnknownKeyTypeErrMsg) {
				continue
			}
			return fmt.Errorf("oidc: failed to unmarshal key %d from set: %w", i, err)
		}
		k.Keys = append(k.Keys, *webKey)
	}
	return nil
}

func (k *jsonWebKeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal((*jose.JSONWebKeySet)(k))
}

type rawJSONWebKeySet struct {
	Keys []json.RawMessage `json:"keys"`
}

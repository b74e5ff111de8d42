// Package rp implements the protocol logic of an OpenID Connect
// relying party on top of a generic OAuth2 authorization code client:
// provider discovery, signing key retrieval, ID Token verification,
// claims validation, replay protection and client authentication at
// the token endpoint.
package rp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/zitadel/logging"
	"golang.org/x/oauth2"

	"github.com/authkeep/oidc/pkg/cache"
	"github.com/authkeep/oidc/pkg/client"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

const (
	idTokenKey = "id_token"
	stateParam = "state"

	jwksCacheKey = "jwks"

	// DefaultCacheTTL is the expiry for cached discovery documents and
	// key sets.
	DefaultCacheTTL = 7 * 24 * time.Hour

	// DefaultCacheKeyPrefix prefixes every cache key written by this
	// package.
	DefaultCacheKeyPrefix = "oidc:"
)

// ErrMissingIDToken is returned when an id_token was expected, but not
// received in the token response.
var ErrMissingIDToken = errors.New("id_token missing")

// RelyingParty declares the minimal interface for oidc clients.
type RelyingParty interface {
	// OAuthConfig returns the underlying oauth2 config.
	OAuthConfig() *oauth2.Config

	// Issuer returns the configured issuer URL.
	Issuer() string

	// HttpClient returns the http client used for calls to the provider.
	HttpClient() *http.Client

	// CookieHandler returns the handler securing the state transfer
	// cookies, or nil if none was configured.
	CookieHandler() *httphelper.CookieHandler

	// IsJWSValidationEnabled reports whether received ID Tokens are
	// cryptographically verified.
	IsJWSValidationEnabled() bool

	// Discovery returns the provider configuration, loading it on first
	// use from the cache or the discovery endpoint.
	Discovery(ctx context.Context) (*oidc.DiscoveryConfiguration, error)

	// Endpoints returns the authorize and token endpoints, resolving
	// them through discovery when they were not configured explicitly.
	Endpoints(ctx context.Context) (oauth2.Endpoint, error)

	// IDTokenVerifier returns the verifier used for id_token
	// verification, building it on first use.
	IDTokenVerifier(ctx context.Context) (*IDTokenVerifier, error)

	// NonceEnabled reports whether nonce validation is active for this
	// provider. Unless overridden, it requires JWS validation and the
	// provider advertising `nonce` among its supported claims.
	NonceEnabled(ctx context.Context) (bool, error)

	// Logger from the context, or a fallback if set.
	Logger(context.Context) (logger *slog.Logger, ok bool)
}

type relyingParty struct {
	issuer            string
	discoveryEndpoint string
	oauthConfig       *oauth2.Config
	httpClient        *http.Client
	cookieHandler     *httphelper.CookieHandler

	store          cache.Cache
	cacheKeyPrefix string
	cacheTTL       time.Duration

	jwsValidation   bool
	nonceValidation *bool
	verifierOpts    []VerifierOption
	keySetOpts      []RemoteKeySetOption
	logger          *slog.Logger

	// lazily resolved state, loaded once per instance
	mu              sync.Mutex
	discoveryConfig *oidc.DiscoveryConfiguration
	idTokenVerifier *IDTokenVerifier
	nonceEnabled    *bool
}

func (rp *relyingParty) OAuthConfig() *oauth2.Config {
	return rp.oauthConfig
}

func (rp *relyingParty) Issuer() string {
	return rp.issuer
}

func (rp *relyingParty) HttpClient() *http.Client {
	return rp.httpClient
}

func (rp *relyingParty) CookieHandler() *httphelper.CookieHandler {
	return rp.cookieHandler
}

func (rp *relyingParty) IsJWSValidationEnabled() bool {
	return rp.jwsValidation
}

func (rp *relyingParty) Logger(ctx context.Context) (logger *slog.Logger, ok bool) {
	logger, ok = logging.FromContext(ctx)
	if ok {
		return logger, ok
	}
	return rp.logger, rp.logger != nil
}

// Discovery returns the provider configuration. On first use it checks
// the cache under `<prefix><clientID>`; on a miss it fetches the
// discovery document and writes it back with the configured expiry.
// Without a cache, discovery runs once per instance. A configuration
// injected with WithDiscoveryConfig bypasses all of this.
func (rp *relyingParty) Discovery(ctx context.Context) (*oidc.DiscoveryConfiguration, error) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.discoveryConfig != nil {
		return rp.discoveryConfig, nil
	}
	config, err := rp.loadDiscovery(ctx)
	if err != nil {
		return nil, err
	}
	rp.discoveryConfig = config
	return config, nil
}

// Endpoints returns the endpoints of the oauth2 config, filling blanks
// from the discovery document. The configured oauthConfig is never
// mutated after construction, so concurrent calls are safe.
func (rp *relyingParty) Endpoints(ctx context.Context) (oauth2.Endpoint, error) {
	endpoint := rp.oauthConfig.Endpoint
	if endpoint.AuthURL != "" && endpoint.TokenURL != "" {
		return endpoint, nil
	}
	config, err := rp.Discovery(ctx)
	if err != nil {
		return oauth2.Endpoint{}, err
	}
	if endpoint.AuthURL == "" {
		endpoint.AuthURL = config.AuthorizationEndpoint
	}
	if endpoint.TokenURL == "" {
		endpoint.TokenURL = config.TokenEndpoint
	}
	return endpoint, nil
}

func (rp *relyingParty) loadDiscovery(ctx context.Context) (*oidc.DiscoveryConfiguration, error) {
	cacheKey := rp.cacheKeyPrefix + rp.oauthConfig.ClientID
	if rp.store != nil {
		if raw, ok := rp.store.Get(ctx, cacheKey); ok {
			config := new(oidc.DiscoveryConfiguration)
			if err := json.Unmarshal(raw, config); err == nil {
				return config, nil
			}
			// broken cache entries are replaced by a fresh fetch
		}
	}
	config, err := client.Discover(ctx, rp.issuer, rp.httpClient, rp.discoveryEndpoint)
	if err != nil {
		return nil, err
	}
	if rp.store != nil {
		raw, err := json.Marshal(config)
		if err == nil {
			err = rp.store.Set(ctx, cacheKey, raw, rp.cacheTTL)
		}
		if err != nil {
			logFromContext(ctx).Warn("failed to cache discovery document", "error", err)
		}
	}
	return config, nil
}

// IDTokenVerifier builds the verifier on first use: it resolves the
// jwks_uri through discovery and wires the remote key set, reusing the
// instance for all later verifications.
func (rp *relyingParty) IDTokenVerifier(ctx context.Context) (*IDTokenVerifier, error) {
	config, err := rp.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.idTokenVerifier != nil {
		return rp.idTokenVerifier, nil
	}
	issuer := config.Issuer
	if issuer == "" {
		issuer = rp.issuer
	}
	keySetOpts := rp.keySetOpts
	if rp.store != nil {
		keySetOpts = append(keySetOpts, WithKeySetCache(rp.store, rp.cacheKeyPrefix+jwksCacheKey, rp.cacheTTL))
	}
	keySet := NewRemoteKeySet(rp.httpClient, config.JwksURI, keySetOpts...)
	verifier, err := NewIDTokenVerifier(issuer, rp.oauthConfig.ClientID, keySet, rp.verifierOpts...)
	if err != nil {
		return nil, err
	}
	rp.idTokenVerifier = verifier
	return verifier, nil
}

// NonceEnabled derives the nonce validation flag once and caches it for
// the instance lifetime.
func (rp *relyingParty) NonceEnabled(ctx context.Context) (bool, error) {
	if rp.nonceValidation != nil {
		return *rp.nonceValidation, nil
	}
	rp.mu.Lock()
	cached := rp.nonceEnabled
	rp.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	enabled := false
	if rp.jwsValidation {
		config, err := rp.Discovery(ctx)
		if err != nil {
			return false, err
		}
		enabled = config.SupportsClaim(nonceParam)
	}
	rp.mu.Lock()
	rp.nonceEnabled = &enabled
	rp.mu.Unlock()
	return enabled, nil
}

// NewRelyingParty creates a RelyingParty for the given issuer. No
// network call happens here; the provider configuration is resolved
// lazily on first use unless injected with WithDiscoveryConfig.
func NewRelyingParty(issuer, clientID, clientSecret, redirectURI string, scopes []string, options ...Option) (RelyingParty, error) {
	rp := &relyingParty{
		issuer: issuer,
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
		},
		httpClient:     httphelper.DefaultHTTPClient,
		cacheKeyPrefix: DefaultCacheKeyPrefix,
		cacheTTL:       DefaultCacheTTL,
		jwsValidation:  true,
	}
	for _, optFunc := range options {
		if err := optFunc(rp); err != nil {
			return nil, err
		}
	}
	// surface algorithm configuration errors now instead of at the
	// first verification
	if _, err := NewIDTokenVerifier(issuer, clientID, nil, rp.verifierOpts...); err != nil {
		return nil, err
	}
	return rp, nil
}

// Option is the type for providing dynamic options to the relyingParty.
type Option func(*relyingParty) error

// WithCustomDiscoveryUrl overrides the derived well-known URL.
func WithCustomDiscoveryUrl(url string) Option {
	return func(rp *relyingParty) error {
		rp.discoveryEndpoint = url
		return nil
	}
}

// WithDiscoveryConfig injects the provider configuration directly,
// permanently bypassing the discovery fetch and cache.
func WithDiscoveryConfig(config *oidc.DiscoveryConfiguration) Option {
	return func(rp *relyingParty) error {
		rp.discoveryConfig = config
		return nil
	}
}

// WithEndpoints sets the authorize and token endpoints explicitly, so
// they are not resolved from discovery.
func WithEndpoints(endpoint oauth2.Endpoint) Option {
	return func(rp *relyingParty) error {
		rp.oauthConfig.Endpoint = endpoint
		return nil
	}
}

// WithCache persists discovery documents and key sets in store. The
// discovery document is keyed `<keyPrefix><clientID>`, the key set uses
// a fixed key under the same prefix. Zero values keep the defaults.
func WithCache(store cache.Cache, keyPrefix string, ttl time.Duration) Option {
	return func(rp *relyingParty) error {
		rp.store = store
		if keyPrefix != "" {
			rp.cacheKeyPrefix = keyPrefix
		}
		if ttl != 0 {
			rp.cacheTTL = ttl
		}
		return nil
	}
}

// WithCookieHandler sets a handler securing the various state transfer
// cookies.
func WithCookieHandler(cookieHandler *httphelper.CookieHandler) Option {
	return func(rp *relyingParty) error {
		rp.cookieHandler = cookieHandler
		return nil
	}
}

// WithHTTPClient sets the http client used for all calls to the provider.
func WithHTTPClient(client *http.Client) Option {
	return func(rp *relyingParty) error {
		rp.httpClient = client
		return nil
	}
}

// WithoutJWSValidation disables ID Token signature verification and
// with it nonce validation. Only meant for providers that cannot
// publish a key set.
func WithoutJWSValidation() Option {
	return func(rp *relyingParty) error {
		rp.jwsValidation = false
		return nil
	}
}

// WithNonceValidation overrides the derived nonce validation flag.
func WithNonceValidation(enabled bool) Option {
	return func(rp *relyingParty) error {
		rp.nonceValidation = &enabled
		return nil
	}
}

// WithVerifierOpts configures the ID Token verifier, e.g. the
// algorithm allow-list.
func WithVerifierOpts(opts ...VerifierOption) Option {
	return func(rp *relyingParty) error {
		rp.verifierOpts = opts
		return nil
	}
}

// WithKeySetOpts configures the remote key set of the verifier.
func WithKeySetOpts(opts ...RemoteKeySetOption) Option {
	return func(rp *relyingParty) error {
		rp.keySetOpts = opts
		return nil
	}
}

// WithLogger sets a logger that is used in case the request context
// does not contain one.
func WithLogger(logger *slog.Logger) Option {
	return func(rp *relyingParty) error {
		rp.logger = logger
		return nil
	}
}

// AuthURLOpt sets additional parameters on the authorization request.
type AuthURLOpt func(url.Values)

// WithURLParam sets a custom key-value pair on the authorization URL.
func WithURLParam(key, value string) AuthURLOpt {
	return func(values url.Values) {
		values.Set(key, value)
	}
}

// WithPrompt sets the `prompt` parameter in the auth request.
func WithPrompt(prompt ...string) AuthURLOpt {
	return func(values url.Values) {
		values.Set("prompt", oidc.SpaceDelimitedArray(prompt).String())
	}
}

// WithNonceParam supplies an explicit nonce, suppressing the issuing of
// a fresh one.
func WithNonceParam(nonce string) AuthURLOpt {
	return func(values url.Values) {
		values.Set(nonceParam, nonce)
	}
}

// AuthURL builds the authorization request URL. The authorize endpoint
// is resolved from the provider configuration when it was not set
// explicitly and, when nonce validation is active, a fresh nonce is
// issued into store and attached to the request.
func AuthURL(ctx context.Context, state string, rp RelyingParty, store StateStore, opts ...AuthURLOpt) (string, error) {
	ctx, span := client.Tracer.Start(ctx, "AuthURL")
	defer span.End()
	ctx = logCtxWithRPData(ctx, rp, "function", "AuthURL")

	endpoint, err := rp.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	for _, opt := range opts {
		opt(params)
	}
	if err := attachNonce(ctx, rp, store, params); err != nil {
		return "", err
	}
	authOpts := make([]oauth2.AuthCodeOption, 0, len(params))
	for key := range params {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(key, params.Get(key)))
	}
	config := *rp.OAuthConfig()
	config.Endpoint = endpoint
	return config.AuthCodeURL(state, authOpts...), nil
}

type tokenEndpointCaller struct {
	RelyingParty
	tokenEndpoint string
}

func (t tokenEndpointCaller) TokenEndpoint() string {
	return t.tokenEndpoint
}

// clientAuth selects the client authentication method advertised by the
// provider and returns the authorization function for the token request.
func clientAuth(config *oidc.DiscoveryConfiguration, rp RelyingParty, tokenEndpoint string) (authFn any, err error) {
	method, err := client.SelectAuthMethod(config.TokenEndpointAuthMethodsSupported)
	if err != nil {
		return nil, err
	}
	return client.ClientAuthFn(method, rp.OAuthConfig().ClientID, rp.OAuthConfig().ClientSecret, tokenEndpoint)
}

// CodeExchange redeems the authorization code at the token endpoint,
// authenticating with the first mutually supported client
// authentication method. When JWS validation is enabled, the returned
// id_token is verified, its claims validated and the nonce checked
// before the tokens are handed back; a nonce failure aborts the whole
// exchange.
func CodeExchange(ctx context.Context, code string, rp RelyingParty, store StateStore) (*oidc.Tokens, error) {
	ctx, span := client.Tracer.Start(ctx, "CodeExchange")
	defer span.End()
	ctx = logCtxWithRPData(ctx, rp, "function", "CodeExchange")

	config, err := rp.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := rp.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	authFn, err := clientAuth(config, rp, endpoint.TokenURL)
	if err != nil {
		return nil, err
	}
	request := &oidc.AccessTokenRequest{
		Code:        code,
		RedirectURI: rp.OAuthConfig().RedirectURL,
		GrantType:   oidc.GrantTypeCode,
	}
	token, err := client.CallTokenEndpoint(ctx, request, authFn, tokenEndpointCaller{rp, endpoint.TokenURL})
	if err != nil {
		return nil, err
	}
	return verifyTokenResponse(ctx, token, rp, store)
}

// verifyTokenResponse runs the ID Token pipeline on a raw token
// response: signature verification, claims validation, nonce check and
// access token hash check, then merges the verified claims into the
// returned tokens.
func verifyTokenResponse(ctx context.Context, token *oauth2.Token, rp RelyingParty, store StateStore) (*oidc.Tokens, error) {
	ctx, span := client.Tracer.Start(ctx, "verifyTokenResponse")
	defer span.End()

	if !rp.IsJWSValidationEnabled() {
		return &oidc.Tokens{Token: token}, nil
	}
	idToken, ok := token.Extra(idTokenKey).(string)
	if !ok || idToken == "" {
		return &oidc.Tokens{Token: token}, ErrMissingIDToken
	}
	verifier, err := rp.IDTokenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := VerifyIDToken(ctx, idToken, verifier)
	if err != nil {
		return nil, err
	}
	if err = ValidateClaims(claims, verifier); err != nil {
		return nil, err
	}
	if err = checkNonce(ctx, rp, store, claims); err != nil {
		return nil, oidc.ErrInvalidRequest().WithDescription("nonce validation failed").WithParent(err)
	}
	if err = VerifyAccessToken(token.AccessToken, claims.AccessTokenHash, claims.SignatureAlg); err != nil {
		return nil, err
	}
	return &oidc.Tokens{Token: token, IDTokenClaims: claims, IDToken: idToken}, nil
}

// RefreshTokens performs a refresh grant. A fresh nonce is attached to
// the request when nonce validation is active. The response may or may
// not carry a new id_token; when it does, it runs through the same
// verification pipeline as the code exchange.
func RefreshTokens(ctx context.Context, rp RelyingParty, store StateStore, refreshToken string) (*oidc.Tokens, error) {
	ctx, span := client.Tracer.Start(ctx, "RefreshTokens")
	defer span.End()
	ctx = logCtxWithRPData(ctx, rp, "function", "RefreshTokens")

	config, err := rp.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	endpoint, err := rp.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	authFn, err := clientAuth(config, rp, endpoint.TokenURL)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	if err = attachNonce(ctx, rp, store, params); err != nil {
		return nil, err
	}
	request := &oidc.RefreshTokenRequest{
		RefreshToken: refreshToken,
		Scopes:       rp.OAuthConfig().Scopes,
		GrantType:    oidc.GrantTypeRefreshToken,
		Nonce:        params.Get(nonceParam),
	}
	token, err := client.CallTokenEndpoint(ctx, request, authFn, tokenEndpointCaller{rp, endpoint.TokenURL})
	if err != nil {
		return nil, err
	}
	tokens, err := verifyTokenResponse(ctx, token, rp, store)
	if err == nil || errors.Is(err, ErrMissingIDToken) {
		// https://openid.net/specs/openid-connect-core-1_0.html#RefreshTokenResponse
		// ...except that it might not contain an id_token.
		return tokens, nil
	}
	return nil, err
}

// Userinfo returns the user profile claims for the given tokens. An
// advertised userinfo_endpoint is preferred: the response object is
// returned directly without any JWS handling. Without one, the claims
// are extracted from the id_token, verified when JWS validation is
// enabled, or base64url decoded without verification otherwise (which
// trusts the token source and is less safe). In all cases the token
// metadata claims are stripped, leaving `sub` and the provider
// specific profile claims.
func Userinfo(ctx context.Context, tokens *oidc.Tokens, rp RelyingParty) (map[string]any, error) {
	ctx, span := client.Tracer.Start(ctx, "Userinfo")
	defer span.End()
	ctx = logCtxWithRPData(ctx, rp, "function", "Userinfo")

	config, err := rp.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	claims, err := userinfoClaims(ctx, config, tokens, rp)
	if err != nil {
		return nil, err
	}
	return oidc.StripMetadataClaims(claims), nil
}

func userinfoClaims(ctx context.Context, config *oidc.DiscoveryConfiguration, tokens *oidc.Tokens, rp RelyingParty) (map[string]any, error) {
	if config.UserinfoEndpoint != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.UserinfoEndpoint, nil)
		if err != nil {
			return nil, err
		}
		tokenType := tokens.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("authorization", tokenType+" "+tokens.AccessToken)
		claims := make(map[string]any)
		if err := httphelper.HttpRequest(rp.HttpClient(), req, &claims); err != nil {
			return nil, err
		}
		return claims, nil
	}
	idToken := tokens.IDToken
	if idToken == "" {
		if extra, ok := tokens.Extra(idTokenKey).(string); ok {
			idToken = extra
		}
	}
	if idToken == "" {
		return nil, ErrMissingIDToken
	}
	if rp.IsJWSValidationEnabled() {
		verifier, err := rp.IDTokenVerifier(ctx)
		if err != nil {
			return nil, err
		}
		claims, err := VerifyIDToken(ctx, idToken, verifier)
		if err != nil {
			return nil, err
		}
		return claims.Claims, nil
	}
	// unverified decode of the payload segment
	claims := make(map[string]any)
	if _, err := oidc.ParseToken(idToken, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// EndSession builds and calls the provider's end_session_endpoint and
// returns the redirect location, if the provider answered with one.
func EndSession(ctx context.Context, rp RelyingParty, idToken, optionalRedirectURI, optionalState string) (*url.URL, error) {
	ctx, span := client.Tracer.Start(ctx, "EndSession")
	defer span.End()
	ctx = logCtxWithRPData(ctx, rp, "function", "EndSession")

	config, err := rp.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	if config.EndSessionEndpoint == "" {
		return nil, errors.New("provider does not support end_session")
	}
	request := oidc.EndSessionRequest{
		IdTokenHint:           idToken,
		ClientID:              rp.OAuthConfig().ClientID,
		PostLogoutRedirectURI: optionalRedirectURI,
		State:                 optionalState,
	}
	return client.CallEndSessionEndpoint(ctx, request, nil, endSessionCaller{rp: rp, endpoint: config.EndSessionEndpoint})
}

type endSessionCaller struct {
	rp       RelyingParty
	endpoint string
}

func (c endSessionCaller) GetEndSessionEndpoint() string {
	return c.endpoint
}

func (c endSessionCaller) HttpClient() *http.Client {
	return c.rp.HttpClient()
}

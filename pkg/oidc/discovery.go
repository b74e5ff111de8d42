package oidc

// DiscoveryEndpoint is the path of the provider metadata document,
// relative to the issuer, as defined in OIDC Discovery 1.0.
const DiscoveryEndpoint = "/.well-known/openid-configuration"

// DiscoveryConfiguration is the provider metadata published at the
// discovery endpoint. Only fields consumed by a relying party are mapped;
// unknown fields are ignored on decode.
type DiscoveryConfiguration struct {
	// Issuer is the identifier of the provider, used as the `iss` claim of its tokens.
	Issuer string `json:"issuer,omitempty"`

	// AuthorizationEndpoint is the URL where the user interactive login starts.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`

	// TokenEndpoint is the URL where authorization codes and refresh tokens are redeemed.
	TokenEndpoint string `json:"token_endpoint,omitempty"`

	// UserinfoEndpoint is the URL where an access token can be traded for user claims.
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// EndSessionEndpoint is the URL the relying party redirects to for logout at the provider.
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	// JwksURI is the URL of the JSON Web Key Set holding the provider's signing keys.
	JwksURI string `json:"jwks_uri,omitempty"`

	ScopesSupported        []string    `json:"scopes_supported,omitempty"`
	ResponseTypesSupported []string    `json:"response_types_supported,omitempty"`
	GrantTypesSupported    []GrantType `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported  []string    `json:"subject_types_supported,omitempty"`

	// IDTokenSigningAlgValuesSupported lists the JWS `alg` values the provider may sign ID Tokens with.
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`

	// TokenEndpointAuthMethodsSupported lists the client authentication methods accepted
	// by the token endpoint. If omitted, the default is client_secret_basic.
	TokenEndpointAuthMethodsSupported []AuthMethod `json:"token_endpoint_auth_methods_supported,omitempty"`

	// ClaimsSupported lists the claim names the provider may be able to supply.
	// The list is advisory and need not be exhaustive.
	ClaimsSupported []string `json:"claims_supported,omitempty"`
}

// SupportsClaim reports whether the provider advertises the named claim
// in its claims_supported list.
func (d *DiscoveryConfiguration) SupportsClaim(name string) bool {
	for _, c := range d.ClaimsSupported {
		if c == name {
			return true
		}
	}
	return false
}

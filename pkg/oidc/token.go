package oidc

import (
	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
)

// IDTokenClaims holds the payload of a verified ID Token.
// Registered claims are mapped to typed fields, all claims
// (registered and provider specific) are additionally kept in Claims.
type IDTokenClaims struct {
	Issuer                              string              `json:"iss,omitempty"`
	Subject                             string              `json:"sub,omitempty"`
	Audience                            Audience            `json:"aud,omitempty"`
	Expiration                          Time                `json:"exp,omitempty"`
	IssuedAt                            Time                `json:"iat,omitempty"`
	AuthTime                            Time                `json:"auth_time,omitempty"`
	NotBefore                           Time                `json:"nbf,omitempty"`
	Nonce                               string              `json:"nonce,omitempty"`
	AuthenticationContextClassReference string              `json:"acr,omitempty"`
	AuthenticationMethodsReferences     []string            `json:"amr,omitempty"`
	AuthorizedParty                     string              `json:"azp,omitempty"`
	AccessTokenHash                     string              `json:"at_hash,omitempty"`
	CodeHash                            string              `json:"c_hash,omitempty"`

	Claims map[string]any `json:"-"`

	// SignatureAlg is set by the verifier to the algorithm
	// the token signature was checked with.
	SignatureAlg jose.SignatureAlgorithm `json:"-"`
}

func (c *IDTokenClaims) GetIssuer() string {
	return c.Issuer
}

func (c *IDTokenClaims) GetSubject() string {
	return c.Subject
}

func (c *IDTokenClaims) GetAudience() []string {
	return c.Audience
}

func (c *IDTokenClaims) GetNonce() string {
	return c.Nonce
}

// MarshalJSON merges the registered fields and the Claims map
// into a single JSON object.
func (c *IDTokenClaims) MarshalJSON() ([]byte, error) {
	type Alias IDTokenClaims
	a := (*Alias)(c)
	return mergeAndMarshalClaims(a, c.Claims)
}

// UnmarshalJSON fills the registered fields and retains the complete
// document in the Claims map.
func (c *IDTokenClaims) UnmarshalJSON(data []byte) error {
	type Alias IDTokenClaims
	a := (*Alias)(c)
	return unmarshalJSONMulti(data, a, &c.Claims)
}

// Tokens extends the generic OAuth2 token with the raw ID Token and its
// verified claims.
type Tokens struct {
	*oauth2.Token
	IDTokenClaims *IDTokenClaims
	IDToken       string
}

// metadataClaimNames are the registered ID Token claims that describe the
// token itself rather than the authenticated user. `sub` is excluded, it
// identifies the user.
var metadataClaimNames = []string{
	"iss", "aud", "exp", "iat", "auth_time", "nbf", "nonce",
	"acr", "amr", "azp", "at_hash", "c_hash", "jti",
}

// StripMetadataClaims returns a copy of claims without the registered
// token metadata claims, leaving `sub` and provider specific
// user profile claims.
func StripMetadataClaims(claims map[string]any) map[string]any {
	stripped := make(map[string]any, len(claims))
	for k, v := range claims {
		stripped[k] = v
	}
	for _, name := range metadataClaimNames {
		delete(stripped, name)
	}
	return stripped
}

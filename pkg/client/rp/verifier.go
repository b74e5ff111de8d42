package rp

import (
	"context"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/authkeep/oidc/pkg/client"
	"github.com/authkeep/oidc/pkg/oidc"
)

// ErrInvalidToken is the generic failure surfaced for any verification
// or claims error. The underlying cause is only included in debug mode,
// production callers get the terse message to avoid leaking details
// about the verification process.
var ErrInvalidToken = errors.New("invalid token")

// supportedSignAlgorithms are the JWS algorithm names known to the
// signature library. Configured allow-list entries must map into this
// set, anything else is a configuration error.
var supportedSignAlgorithms = map[string]jose.SignatureAlgorithm{
	string(jose.RS256): jose.RS256,
	string(jose.RS384): jose.RS384,
	string(jose.RS512): jose.RS512,
	string(jose.ES256): jose.ES256,
	string(jose.ES384): jose.ES384,
	string(jose.ES512): jose.ES512,
	string(jose.PS256): jose.PS256,
	string(jose.PS384): jose.PS384,
	string(jose.PS512): jose.PS512,
	string(jose.HS256): jose.HS256,
	string(jose.HS384): jose.HS384,
	string(jose.HS512): jose.HS512,
	string(jose.EdDSA): jose.EdDSA,
}

// IDTokenVerifier verifies the signature of ID Tokens against a key set
// and an allow-list of algorithms, and validates their issuer and
// audience claims. Build it once and reuse it across verifications.
type IDTokenVerifier struct {
	Issuer   string
	ClientID string
	KeySet   oidc.KeySet

	algs []jose.SignatureAlgorithm

	// time checks are off unless configured, see WithTimeChecks
	checkTime bool
	offset    time.Duration
	maxAgeIAT time.Duration

	debug bool
}

// NewIDTokenVerifier builds a verifier for tokens issued by issuer for
// clientID. The signAlgs allow-list defaults to RS256; unknown
// algorithm names fail construction immediately.
func NewIDTokenVerifier(issuer, clientID string, keySet oidc.KeySet, options ...VerifierOption) (*IDTokenVerifier, error) {
	v := &IDTokenVerifier{
		Issuer:   issuer,
		ClientID: clientID,
		KeySet:   keySet,
		algs:     []jose.SignatureAlgorithm{jose.RS256},
	}
	for _, opt := range options {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// VerifierOption is the type for providing dynamic options to the IDTokenVerifier.
type VerifierOption func(*IDTokenVerifier) error

// WithSupportedSigningAlgorithms overwrites the default RS256 allow-list.
func WithSupportedSigningAlgorithms(algs ...string) VerifierOption {
	return func(v *IDTokenVerifier) error {
		v.algs = make([]jose.SignatureAlgorithm, len(algs))
		for i, alg := range algs {
			sigAlg, ok := supportedSignAlgorithms[alg]
			if !ok {
				return fmt.Errorf("unsupported signing algorithm %q", alg)
			}
			v.algs[i] = sigAlg
		}
		return nil
	}
}

// WithTimeChecks enables expiry and issued-at validation, widened by
// offset against clock skew. Without this option the token lifetime is
// not checked.
func WithTimeChecks(offset time.Duration) VerifierOption {
	return func(v *IDTokenVerifier) error {
		v.checkTime = true
		v.offset = offset
		return nil
	}
}

// WithIssuedAtMaxAge limits how far in the past `iat` may lie. Implies
// the issued-at check.
func WithIssuedAtMaxAge(maxAge time.Duration) VerifierOption {
	return func(v *IDTokenVerifier) error {
		v.checkTime = true
		v.maxAgeIAT = maxAge
		return nil
	}
}

// WithDebugMode includes the underlying cause in verification errors.
// Not for production use.
func WithDebugMode() VerifierOption {
	return func(v *IDTokenVerifier) error {
		v.debug = true
		return nil
	}
}

// tokenError hides the cause behind the generic ErrInvalidToken unless
// the verifier runs in debug mode.
func (v *IDTokenVerifier) tokenError(err error) error {
	if v.debug {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return ErrInvalidToken
}

// VerifyIDToken checks the cryptographic integrity of the compact
// serialized token: it must parse, its header algorithm must be in the
// allow-list and a key of the current key set must verify the
// signature. It returns the decoded payload claims.
func VerifyIDToken(ctx context.Context, token string, v *IDTokenVerifier) (*oidc.IDTokenClaims, error) {
	ctx, span := client.Tracer.Start(ctx, "VerifyIDToken")
	defer span.End()

	claims := new(oidc.IDTokenClaims)
	payload, err := oidc.ParseToken(token, claims)
	if err != nil {
		return nil, v.tokenError(err)
	}
	if err = oidc.CheckSignature(ctx, token, payload, claims, v.algs, v.KeySet); err != nil {
		return nil, v.tokenError(err)
	}
	if v.checkTime {
		if err = oidc.CheckExpiration(claims, v.offset); err != nil {
			return nil, v.tokenError(err)
		}
		if err = oidc.CheckIssuedAt(claims, v.maxAgeIAT, v.offset); err != nil {
			return nil, v.tokenError(err)
		}
	}
	return claims, nil
}

// ValidateClaims checks the semantic claims of an already verified
// token: subject present, issuer equal to the expected issuer (trailing
// slashes ignored), audience containing the client id, and azp rules
// for multi-audience tokens.
func ValidateClaims(claims *oidc.IDTokenClaims, v *IDTokenVerifier) error {
	if err := oidc.CheckSubject(claims); err != nil {
		return v.tokenError(err)
	}
	if err := oidc.CheckIssuer(claims, v.Issuer); err != nil {
		return v.tokenError(err)
	}
	if err := oidc.CheckAudience(claims, v.ClientID); err != nil {
		return v.tokenError(err)
	}
	if err := oidc.CheckAuthorizedParty(claims, v.ClientID); err != nil {
		return v.tokenError(err)
	}
	return nil
}

// VerifyAccessToken validates the access token against the `at_hash`
// claim. Tokens without the claim pass, it is optional in the code flow.
func VerifyAccessToken(accessToken, atHash string, sigAlgorithm jose.SignatureAlgorithm) error {
	if atHash == "" {
		return nil
	}
	actual, err := oidc.ClaimHash(accessToken, sigAlgorithm)
	if err != nil {
		return err
	}
	if actual != atHash {
		return oidc.ErrAtHash
	}
	return nil
}

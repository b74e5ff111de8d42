package oidc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	ErrParse                   = errors.New("parsing of request failed")
	ErrIssuerInvalid           = errors.New("issuer does not match")
	ErrSubjectMissing          = errors.New("subject missing")
	ErrAudience                = errors.New("audience is not valid")
	ErrAzpMissing              = errors.New("authorized party is not set. If Token is valid for multiple audiences, azp must not be empty")
	ErrAzpInvalid              = errors.New("authorized party is not valid")
	ErrSignatureUnsupportedAlg = errors.New("signature algorithm not supported")
	ErrSignatureInvalid        = errors.New("invalid signature")
	ErrSignatureInvalidPayload = errors.New("signature does not match Payload")
	ErrExpired                 = errors.New("token has expired")
	ErrIatInFuture             = errors.New("issuedAt of token is in the future")
	ErrIatToOld                = errors.New("issuedAt of token is to old")
	ErrNonceInvalid            = errors.New("nonce does not match")
	ErrAtHash                  = errors.New("at_hash does not correspond to access token")
)

// ParseToken parses the payload segment of a compact serialized JWS into
// claims and returns the raw payload bytes. No signature check happens here.
func ParseToken(tokenString string, claims any) ([]byte, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: token contains an invalid number of segments", ErrParse)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed jwt payload: %v", ErrParse, err)
	}
	err = json.Unmarshal(payload, claims)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal payload: %v", ErrParse, err)
	}
	return payload, nil
}

// CheckSubject errors when the `sub` claim is empty.
func CheckSubject(claims *IDTokenClaims) error {
	if claims.GetSubject() == "" {
		return ErrSubjectMissing
	}
	return nil
}

// CheckIssuer compares the `iss` claim against the expected issuer.
// A trailing slash is stripped from both sides before comparison, as
// providers are inconsistent about it.
func CheckIssuer(claims *IDTokenClaims, issuer string) error {
	if claims.GetIssuer() == "" {
		return fmt.Errorf("%w: issuer claim missing", ErrIssuerInvalid)
	}
	if strings.TrimSuffix(claims.GetIssuer(), "/") != strings.TrimSuffix(issuer, "/") {
		return fmt.Errorf("%w: Expected: %s, got: %s", ErrIssuerInvalid, issuer, claims.GetIssuer())
	}
	return nil
}

// CheckAudience errors unless the `aud` claim equals (single value) or
// contains (list) the client id. Any other claim shape was already
// rejected when decoding into Audience.
func CheckAudience(claims *IDTokenClaims, clientID string) error {
	for _, aud := range claims.GetAudience() {
		if aud == clientID {
			return nil
		}
	}
	return fmt.Errorf("%w: Audience must contain client_id %q", ErrAudience, clientID)
}

// CheckAuthorizedParty requires `azp` to be present and equal to the
// client id whenever the token is valid for multiple audiences.
func CheckAuthorizedParty(claims *IDTokenClaims, clientID string) error {
	if len(claims.GetAudience()) > 1 && claims.AuthorizedParty == "" {
		return ErrAzpMissing
	}
	if claims.AuthorizedParty != "" && claims.AuthorizedParty != clientID {
		return fmt.Errorf("%w: azp %q must be equal to client_id %q", ErrAzpInvalid, claims.AuthorizedParty, clientID)
	}
	return nil
}

// CheckSignature parses the compact serialized token, enforcing the
// allow-listed algorithms, verifies it against the key set and compares
// the signed bytes with the previously decoded payload. On success the
// used algorithm is recorded on the claims.
func CheckSignature(ctx context.Context, token string, payload []byte, claims *IDTokenClaims, supportedSigAlgs []jose.SignatureAlgorithm, set KeySet) error {
	if len(supportedSigAlgs) == 0 {
		supportedSigAlgs = []jose.SignatureAlgorithm{jose.RS256}
	}
	jws, err := jose.ParseSigned(token, supportedSigAlgs)
	if err != nil {
		if strings.Contains(err.Error(), "unexpected signature algorithm") {
			return fmt.Errorf("%w: %v", ErrSignatureUnsupportedAlg, err)
		}
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	signedPayload, err := set.VerifySignature(ctx, jws)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if !bytes.Equal(signedPayload, payload) {
		return ErrSignatureInvalidPayload
	}
	_, alg := GetKeyIDAndAlg(jws)
	claims.SignatureAlg = jose.SignatureAlgorithm(alg)
	return nil
}

// CheckExpiration errors when `exp` lies in the past. The offset widens
// the acceptance window against clock skew.
func CheckExpiration(claims *IDTokenClaims, offset time.Duration) error {
	expiration := claims.Expiration.AsTime().Round(time.Second)
	if !time.Now().Add(offset).Before(expiration) {
		return ErrExpired
	}
	return nil
}

// CheckIssuedAt errors when `iat` lies in the future (beyond offset) or,
// if maxAgeIAT is set, further in the past than allowed.
func CheckIssuedAt(claims *IDTokenClaims, maxAgeIAT, offset time.Duration) error {
	issuedAt := claims.IssuedAt.AsTime().Round(time.Second)
	now := time.Now().Add(offset).Round(time.Second)
	if issuedAt.After(now) {
		return fmt.Errorf("%w: (iat: %v, now with offset: %v)", ErrIatInFuture, issuedAt, now)
	}
	if maxAgeIAT == 0 {
		return nil
	}
	maxAge := time.Now().Add(-maxAgeIAT).Round(time.Second)
	if issuedAt.Before(maxAge) {
		return fmt.Errorf("%w: must not be older than %v, but was %v (%v to old)", ErrIatToOld, maxAge, issuedAt, maxAge.Sub(issuedAt))
	}
	return nil
}

// CheckNonce compares the `nonce` claim against the expected value in
// constant time.
func CheckNonce(claims *IDTokenClaims, nonce string) error {
	if subtle.ConstantTimeCompare([]byte(claims.GetNonce()), []byte(nonce)) == 0 {
		return ErrNonceInvalid
	}
	return nil
}

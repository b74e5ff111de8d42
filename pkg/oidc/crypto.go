package oidc

import (
	jose "github.com/go-jose/go-jose/v4"

	"github.com/authkeep/oidc/pkg/crypto"
)

// ClaimHash computes the value of a token hash claim (`at_hash`,
// `c_hash`): the left half of the hash matching the signature algorithm,
// base64url encoded.
func ClaimHash(claim string, sigAlgorithm jose.SignatureAlgorithm) (string, error) {
	hash, err := crypto.GetHashAlgorithm(sigAlgorithm)
	if err != nil {
		return "", err
	}
	return crypto.HashString(hash, claim, true), nil
}

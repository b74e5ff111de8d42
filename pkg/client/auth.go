package client

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/authkeep/oidc/pkg/crypto"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

// ErrNoSupportedAuthMethod is returned when the provider advertises no
// client authentication method this client can perform.
var ErrNoSupportedAuthMethod = errors.New("no supported client authentication method")

// authMethodPriority is the fixed client side preference order. The
// provider's advertised order carries no weight.
var authMethodPriority = []oidc.AuthMethod{
	oidc.AuthMethodBasic,
	oidc.AuthMethodPost,
	oidc.AuthMethodSecretJWT,
}

// SelectAuthMethod picks the first method of the fixed priority order
// that the provider supports. An empty supported list defaults to
// client_secret_basic, as prescribed by OIDC Discovery.
func SelectAuthMethod(supported []oidc.AuthMethod) (oidc.AuthMethod, error) {
	if len(supported) == 0 {
		return oidc.AuthMethodBasic, nil
	}
	for _, method := range authMethodPriority {
		if slices.Contains(supported, method) {
			return method, nil
		}
	}
	return "", fmt.Errorf("%w: provider supports %v", ErrNoSupportedAuthMethod, supported)
}

// ClientAuthFn returns the authorization function to be passed into
// httphelper.FormRequest for the selected method:
//
//   - client_secret_basic: Basic Authorization header
//   - client_secret_post: client_id and client_secret form parameters
//   - client_secret_jwt: HMAC-SHA256 signed assertion form parameter
func ClientAuthFn(method oidc.AuthMethod, clientID, clientSecret, tokenEndpoint string) (authFn any, err error) {
	switch method {
	case oidc.AuthMethodBasic:
		return httphelper.AuthorizeBasic(clientID, clientSecret), nil
	case oidc.AuthMethodPost:
		return httphelper.FormAuthorization(func(values url.Values) {
			values.Set("client_id", clientID)
			values.Set("client_secret", clientSecret)
		}), nil
	case oidc.AuthMethodSecretJWT:
		assertion, err := SignedClientSecretAssertion(clientID, clientSecret, tokenEndpoint)
		if err != nil {
			return nil, err
		}
		return httphelper.FormAuthorization(func(values url.Values) {
			values.Set("assertion", assertion)
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoSupportedAuthMethod, method)
	}
}

type clientSecretAssertion struct {
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub"`
	Audience  string    `json:"aud"`
	JWTID     string    `json:"jti"`
	IssuedAt  oidc.Time `json:"iat"`
	ExpiresAt oidc.Time `json:"exp"`
}

// SignedClientSecretAssertion builds the client_secret_jwt assertion:
// header {typ: JWT, alg: HS256}, payload {iss, sub, aud, jti, iat,
// exp=iat+3600} with iss = sub = client id and aud = token endpoint URL,
// signed with the client secret.
func SignedClientSecretAssertion(clientID, clientSecret, tokenEndpoint string) (string, error) {
	signer, err := crypto.HMACSigner(clientSecret)
	if err != nil {
		return "", err
	}
	iat := time.Now()
	return crypto.Sign(&clientSecretAssertion{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  tokenEndpoint,
		JWTID:     uuid.NewString(),
		IssuedAt:  oidc.FromTime(iat),
		ExpiresAt: oidc.FromTime(iat.Add(time.Hour)),
	}, signer)
}

// Package client implements the outbound calls a relying party makes to
// an OpenID provider: discovery, token exchange and end session, plus
// the selection of the client authentication method.
package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/authkeep/oidc/internal/otel"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

var (
	Encoder = httphelper.Encoder(oidc.NewEncoder())
	Tracer  = otel.Tracer("github.com/authkeep/oidc/pkg/client")
)

// Discover fetches and decodes the provider configuration from the
// issuer's well-known endpoint. The optional wellKnownURL overrides the
// derived URL. The issuer of the returned document must match the
// requested one. No retry is performed, failures surface to the caller.
func Discover(ctx context.Context, issuer string, httpClient *http.Client, wellKnownURL ...string) (*oidc.DiscoveryConfiguration, error) {
	ctx, span := Tracer.Start(ctx, "Discover")
	defer span.End()

	wellKnown := strings.TrimSuffix(issuer, "/") + oidc.DiscoveryEndpoint
	if len(wellKnownURL) == 1 && wellKnownURL[0] != "" {
		wellKnown = wellKnownURL[0]
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}
	discoveryConfig := new(oidc.DiscoveryConfiguration)
	err = httphelper.HttpRequest(httpClient, req, &discoveryConfig)
	if err != nil {
		return nil, err
	}
	if strings.TrimSuffix(discoveryConfig.Issuer, "/") != strings.TrimSuffix(issuer, "/") {
		return nil, oidc.ErrIssuerInvalid
	}
	return discoveryConfig, nil
}

type TokenEndpointCaller interface {
	TokenEndpoint() string
	HttpClient() *http.Client
}

// CallTokenEndpoint posts the form encoded request to the token
// endpoint. authFn attaches the client credentials and may be a
// httphelper.FormAuthorization, a httphelper.RequestAuthorization or nil.
func CallTokenEndpoint(ctx context.Context, request any, authFn any, caller TokenEndpointCaller) (*oauth2.Token, error) {
	ctx, span := Tracer.Start(ctx, "CallTokenEndpoint")
	defer span.End()

	req, err := httphelper.FormRequest(ctx, caller.TokenEndpoint(), request, Encoder, authFn)
	if err != nil {
		return nil, err
	}
	tokenRes := new(oidc.AccessTokenResponse)
	if err := httphelper.HttpRequest(caller.HttpClient(), req, &tokenRes); err != nil {
		return nil, err
	}
	token := &oauth2.Token{
		AccessToken:  tokenRes.AccessToken,
		TokenType:    tokenRes.TokenType,
		RefreshToken: tokenRes.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(tokenRes.ExpiresIn) * time.Second),
	}
	if tokenRes.IDToken != "" {
		token = token.WithExtra(map[string]any{
			"id_token": tokenRes.IDToken,
		})
	}
	return token, nil
}

type EndSessionCaller interface {
	GetEndSessionEndpoint() string
	HttpClient() *http.Client
}

// CallEndSessionEndpoint posts the logout request and returns the
// redirect location the provider answered with, if any.
func CallEndSessionEndpoint(ctx context.Context, request any, authFn any, caller EndSessionCaller) (*url.URL, error) {
	ctx, span := Tracer.Start(ctx, "CallEndSessionEndpoint")
	defer span.End()

	req, err := httphelper.FormRequest(ctx, caller.GetEndSessionEndpoint(), request, Encoder, authFn)
	if err != nil {
		return nil, err
	}
	client := caller.HttpClient()
	client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return nil, &oidc.Error{ErrorType: oidc.ServerError, Description: "EndSession failure, " + resp.Status + ": " + string(body)}
	}
	location, err := resp.Location()
	if err != nil {
		if errors.Is(err, http.ErrNoLocation) {
			return nil, nil
		}
		return nil, err
	}
	return location, nil
}

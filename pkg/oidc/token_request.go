package oidc

// AccessTokenRequest is the form body of the authorization code
// exchange. Client credentials are not part of the request itself, they
// are attached by the selected client authentication method.
type AccessTokenRequest struct {
	Code        string    `schema:"code"`
	RedirectURI string    `schema:"redirect_uri"`
	GrantType   GrantType `schema:"grant_type"`
}

// RefreshTokenRequest is the form body of a refresh token grant.
type RefreshTokenRequest struct {
	RefreshToken string              `schema:"refresh_token"`
	Scopes       SpaceDelimitedArray `schema:"scope,omitempty"`
	GrantType    GrantType           `schema:"grant_type"`
	Nonce        string              `schema:"nonce,omitempty"`
}

// EndSessionRequest is sent to the provider's end_session_endpoint to
// terminate the upstream session.
type EndSessionRequest struct {
	IdTokenHint           string `schema:"id_token_hint,omitempty"`
	ClientID              string `schema:"client_id,omitempty"`
	PostLogoutRedirectURI string `schema:"post_logout_redirect_uri,omitempty"`
	State                 string `schema:"state,omitempty"`
}

// AccessTokenResponse is the token endpoint response for both the code
// exchange and the refresh grant.
type AccessTokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    uint64 `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

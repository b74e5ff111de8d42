package rp

import (
	"errors"
	"net/http"

	"github.com/authkeep/oidc/pkg/oidc"
)

// ErrMissingCookieHandler is returned by the http handlers when the
// RelyingParty was built without a cookie handler.
var ErrMissingCookieHandler = errors.New("cookie handler required")

// CodeExchangeCallback is called with the verified tokens after a
// successful code exchange.
type CodeExchangeCallback func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens, state string, rp RelyingParty)

// AuthURLHandler starts the authorization code flow: it stores the
// state in a secure cookie, issues a nonce when enabled and redirects
// the user agent to the provider's authorize endpoint.
func AuthURLHandler(stateFn func() string, rp RelyingParty, opts ...AuthURLOpt) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rp.CookieHandler() == nil {
			unauthorizedError(w, r, ErrMissingCookieHandler.Error(), "", rp)
			return
		}
		state := stateFn()
		if err := rp.CookieHandler().SetCookie(w, stateParam, state); err != nil {
			unauthorizedError(w, r, err.Error(), state, rp)
			return
		}
		store := NewCookieStateStore(w, r, rp.CookieHandler())
		url, err := AuthURL(r.Context(), state, rp, store, opts...)
		if err != nil {
			unauthorizedError(w, r, err.Error(), state, rp)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}

// CodeExchangeHandler handles the redirect back from the provider: it
// checks the state cookie against the state parameter, exchanges the
// code and hands the verified tokens to the callback.
func CodeExchangeHandler(callback CodeExchangeCallback, rp RelyingParty) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rp.CookieHandler() == nil {
			unauthorizedError(w, r, ErrMissingCookieHandler.Error(), "", rp)
			return
		}
		state, err := tryReadStateCookie(w, r, rp)
		if err != nil {
			unauthorizedError(w, r, "failed to get state: "+err.Error(), state, rp)
			return
		}
		if params := r.URL.Query(); params.Get("error") != "" {
			unauthorizedError(w, r, params.Get("error_description"), state, rp)
			return
		}
		store := NewCookieStateStore(w, r, rp.CookieHandler())
		tokens, err := CodeExchange(r.Context(), r.URL.Query().Get("code"), rp, store)
		if err != nil {
			unauthorizedError(w, r, "failed to exchange token: "+err.Error(), state, rp)
			return
		}
		callback(w, r, tokens, state, rp)
	}
}

func tryReadStateCookie(w http.ResponseWriter, r *http.Request, rp RelyingParty) (state string, err error) {
	state, err = rp.CookieHandler().CheckQueryCookie(r, stateParam)
	if err != nil {
		return "", err
	}
	rp.CookieHandler().DeleteCookie(w, stateParam)
	return state, nil
}

func unauthorizedError(w http.ResponseWriter, r *http.Request, desc, state string, rp RelyingParty) {
	logger, _ := rp.Logger(r.Context())
	if logger == nil {
		logger = logFromContext(r.Context())
	}
	logger.InfoContext(r.Context(), "authorization failed", "state", state, "description", desc)
	http.Error(w, desc, http.StatusUnauthorized)
}

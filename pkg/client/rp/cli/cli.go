// Package cli runs the authorization code flow for command line tools:
// it serves the redirect endpoint on a loopback port, opens the
// system browser for the login and hands back the verified tokens.
package cli

import (
	"context"
	"net/http"

	"github.com/authkeep/oidc/pkg/client/rp"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

const loginPath = "/login"

// CodeFlow opens the browser for the login and blocks until the
// provider redirected back to the loopback server and the tokens were
// verified. The relyingParty needs a cookie handler for the state and
// nonce transfer.
func CodeFlow(ctx context.Context, relyingParty rp.RelyingParty, callbackPath, port string, stateProvider func() string) *oidc.Tokens {
	codeflowCtx, codeflowCancel := context.WithCancel(ctx)
	defer codeflowCancel()

	tokenChan := make(chan *oidc.Tokens, 1)

	callback := func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens, state string, rp rp.RelyingParty) {
		tokenChan <- tokens
		msg := "<p><strong>Success!</strong></p>"
		msg = msg + "<p>You are authenticated and can now return to the CLI.</p>"
		w.Write([]byte(msg))
	}
	http.Handle(loginPath, rp.AuthURLHandler(stateProvider, relyingParty))
	http.Handle(callbackPath, rp.CodeExchangeHandler(callback, relyingParty))

	httphelper.StartServer(codeflowCtx, ":"+port)

	OpenBrowser("http://localhost:" + port + loginPath)

	return <-tokenChan
}

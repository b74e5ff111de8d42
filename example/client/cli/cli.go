package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/authkeep/oidc/pkg/cache"
	"github.com/authkeep/oidc/pkg/client/rp"
	"github.com/authkeep/oidc/pkg/client/rp/cli"
	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

const callbackPath = "/auth/callback"

var (
	hashKey    = []byte(uuid.NewString())
	encryptKey = []byte(uuid.NewString())[:32]
)

func main() {
	clientID := os.Getenv("CLIENT_ID")
	clientSecret := os.Getenv("CLIENT_SECRET")
	issuer := os.Getenv("ISSUER")
	port := os.Getenv("PORT")
	scopes := []string{oidc.ScopeOpenID, "profile"}

	redirectURI := fmt.Sprintf("http://localhost:%v%v", port, callbackPath)
	cookieHandler := httphelper.NewCookieHandler(hashKey, encryptKey, httphelper.WithUnsecure())

	provider, err := rp.NewRelyingParty(issuer, clientID, clientSecret, redirectURI, scopes,
		rp.WithCookieHandler(cookieHandler),
		rp.WithCache(cache.NewMemory(time.Hour), "cli:", time.Hour),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating provider: %v\n", err)
		os.Exit(1)
	}

	tokens := cli.CodeFlow(context.Background(), provider, callbackPath, port, uuid.NewString)

	info, err := rp.Userinfo(context.Background(), tokens, provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "userinfo failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("signed in as %v\n", info["sub"])
}

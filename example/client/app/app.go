package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"

	"github.com/authkeep/oidc/pkg/cache"
	"github.com/authkeep/oidc/pkg/client/rp"
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
	redisAddr := os.Getenv("REDIS_ADDR")
	scopes := []string{oidc.ScopeOpenID, "profile", "email"}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	}))

	redirectURI := fmt.Sprintf("http://localhost:%v%v", port, callbackPath)
	cookieHandler := httphelper.NewCookieHandler(hashKey, encryptKey, httphelper.WithUnsecure())

	// discovery documents and key sets go to redis when configured,
	// otherwise into process memory
	var store cache.Cache = cache.NewMemory(24 * time.Hour)
	if redisAddr != "" {
		store = cache.NewRedis(rdb.NewClient(&rdb.Options{Addr: redisAddr}))
	}

	provider, err := rp.NewRelyingParty(issuer, clientID, clientSecret, redirectURI, scopes,
		rp.WithCookieHandler(cookieHandler),
		rp.WithCache(store, "example:", 24*time.Hour),
		rp.WithLogger(logger),
	)
	if err != nil {
		logger.Error("error creating provider", "error", err)
		os.Exit(1)
	}

	state := uuid.NewString

	http.Handle("/login", rp.AuthURLHandler(state, provider,
		rp.WithPrompt("select_account"),
	))

	userinfo := func(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens, state string, provider rp.RelyingParty) {
		info, err := rp.Userinfo(r.Context(), tokens, provider)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write(data)
	}
	http.Handle(callbackPath, rp.CodeExchangeHandler(userinfo, provider))

	lis := fmt.Sprintf("127.0.0.1:%s", port)
	logger.Info("press ctrl+c to stop server", "listening on", fmt.Sprintf("http://%s/login", lis))

	server := &http.Server{Addr: lis}
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
}

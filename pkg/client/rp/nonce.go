package rp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	httphelper "github.com/authkeep/oidc/pkg/http"
	"github.com/authkeep/oidc/pkg/oidc"
)

// nonceStateKey is the fixed key the nonce is stored under in the
// per-flow state.
const nonceStateKey = "oidc:nonce"

const nonceParam = "nonce"

var (
	// ErrStateNotFound is returned when a state key has no stored value.
	ErrStateNotFound = errors.New("state not found")

	// ErrNonceMissing is returned when nonce validation is enabled but
	// either the token carries no nonce claim or no nonce was stored
	// for the flow.
	ErrNonceMissing = errors.New("nonce missing")
)

// StateStore carries short lived values across the authorize round
// trip. Implementations are scoped per authentication attempt, so
// concurrent flows of different users never contend on the same key.
type StateStore interface {
	SetState(key, value string) error
	GetState(key string) (string, error)
	RemoveState(key string) error
}

// NewMemoryStateStore returns a StateStore backed by a process local
// map, suitable for tests and CLI flows.
func NewMemoryStateStore() StateStore {
	return &memoryStateStore{values: make(map[string]string)}
}

type memoryStateStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (s *memoryStateStore) SetState(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *memoryStateStore) GetState(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrStateNotFound, key)
	}
	return value, nil
}

func (s *memoryStateStore) RemoveState(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// NewCookieStateStore returns a StateStore writing through the secure
// cookie handler, binding the state to the browser session. Writes go
// to w, reads come from r.
func NewCookieStateStore(w http.ResponseWriter, r *http.Request, cookies *httphelper.CookieHandler) StateStore {
	return &cookieStateStore{w: w, r: r, cookies: cookies}
}

type cookieStateStore struct {
	w       http.ResponseWriter
	r       *http.Request
	cookies *httphelper.CookieHandler
}

func (s *cookieStateStore) SetState(key, value string) error {
	return s.cookies.SetCookie(s.w, key, value)
}

func (s *cookieStateStore) GetState(key string) (string, error) {
	value, err := s.cookies.CheckCookie(s.r, key)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrStateNotFound, key, err)
	}
	return value, nil
}

func (s *cookieStateStore) RemoveState(key string) error {
	s.cookies.DeleteCookie(s.w, key)
	return nil
}

// IssueNonce generates a fresh random nonce, stores it in the per-flow
// state and returns it for inclusion in the outbound request.
func IssueNonce(store StateStore) (string, error) {
	nonce := uuid.NewString()
	if err := store.SetState(nonceStateKey, nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// attachNonce injects a freshly issued nonce into the outbound
// parameters, unless nonce validation is disabled or the caller already
// supplied one.
func attachNonce(ctx context.Context, rp RelyingParty, store StateStore, params url.Values) error {
	enabled, err := rp.NonceEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled || params.Get(nonceParam) != "" {
		return nil
	}
	nonce, err := IssueNonce(store)
	if err != nil {
		return err
	}
	params.Set(nonceParam, nonce)
	return nil
}

// checkNonce compares the token's nonce claim against the stored value
// in constant time. The stored nonce is removed on success only; on
// failure it stays in place so a later attempt with the correct token
// can still succeed.
func checkNonce(ctx context.Context, rp RelyingParty, store StateStore, claims *oidc.IDTokenClaims) error {
	enabled, err := rp.NonceEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	if claims.GetNonce() == "" {
		return fmt.Errorf("%w: no nonce claim in token", ErrNonceMissing)
	}
	stored, err := store.GetState(nonceStateKey)
	if err != nil || stored == "" {
		return fmt.Errorf("%w: no nonce stored for this flow", ErrNonceMissing)
	}
	if err := oidc.CheckNonce(claims, stored); err != nil {
		return err
	}
	return store.RemoveState(nonceStateKey)
}

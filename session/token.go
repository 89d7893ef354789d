package session

import (
	"context"
	"errors"

	"github.com/casedesk/relay/cache"
)

// TokenStore persists the bearer token for bearer-mode deployments.
type TokenStore struct {
	store cache.Cache
	key   string
}

// NewTokenStore keeps the token under cache.TokenKey in store.
func NewTokenStore(store cache.Cache) *TokenStore {
	return &TokenStore{store: store, key: cache.TokenKey}
}

// Token returns the stored token, or "" when none is stored.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	data, err := t.store.Get(ctx, t.key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetToken overwrites the stored token.
func (t *TokenStore) SetToken(ctx context.Context, token string) error {
	return t.store.Set(ctx, t.key, []byte(token), 0)
}

func (t *TokenStore) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, t.key)
}

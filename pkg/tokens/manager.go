package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soypete/voicebridge/pkg/metrics"
)

const (
	// DefaultRefreshBuffer is the time before expiry when we refresh tokens
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultExpiresIn is assumed when the token response carries no expiry
	DefaultExpiresIn = 3600 * time.Second
)

// ErrEmptyToken is returned when the provider answers without an access token
var ErrEmptyToken = errors.New("token response contained no access token")

// Cache holds one access token and refreshes it shortly before it expires.
// Concurrent callers that find the token stale trigger a single fetch.
type Cache struct {
	source Source
	buffer time.Duration
	now    func() time.Time

	mu    sync.Mutex
	token *OAuthToken
}

// NewCache creates a token cache backed by source
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		buffer: DefaultRefreshBuffer,
		now:    time.Now,
	}
}

// SetRefreshBuffer sets the time before expiry when tokens should be refreshed
func (c *Cache) SetRefreshBuffer(buffer time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = buffer
}

// GetValidToken returns a cached access token, fetching a new one if the cache
// is empty or the token expires within the refresh buffer
func (c *Cache) GetValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && !c.token.expiredAt(c.now(), c.buffer) {
		return c.token.AccessToken, nil
	}

	token, err := c.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	c.token = token
	return token.AccessToken, nil
}

// State reports whether a token is cached and still usable
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.token == nil:
		return StateAbsent
	case c.token.expiredAt(c.now(), c.buffer):
		return StateExpired
	default:
		return StateValid
	}
}

// fetch must be called with c.mu held
func (c *Cache) fetch(ctx context.Context) (*OAuthToken, error) {
	fetched, err := c.source.Token(ctx)
	metrics.TokenFetchesTotal.Inc()
	if err != nil {
		return nil, err
	}
	if fetched == nil || fetched.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	now := c.now()
	expiresAt := fetched.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(DefaultExpiresIn)
	}

	tokenType := fetched.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	scope, _ := fetched.Extra("scope").(string)
	return &OAuthToken{
		AccessToken:   fetched.AccessToken,
		TokenType:     tokenType,
		Scope:         scope,
		ExpiresAt:     &expiresAt,
		LastRefreshed: &now,
	}, nil
}

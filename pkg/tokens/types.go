package tokens

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// OAuthToken is a cached access token
type OAuthToken struct {
	AccessToken   string     `json:"access_token"`
	TokenType     string     `json:"token_type"`
	Scope         string     `json:"scope"`
	ExpiresAt     *time.Time `json:"expires_at"`     // NULL for non-expiring tokens
	LastRefreshed *time.Time `json:"last_refreshed"` // When we last fetched
}

// IsExpired checks if the token is expired or will expire within the buffer duration
func (t *OAuthToken) IsExpired(buffer time.Duration) bool {
	return t.expiredAt(time.Now(), buffer)
}

func (t *OAuthToken) expiredAt(now time.Time, buffer time.Duration) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !now.Add(buffer).Before(*t.ExpiresAt)
}

// State is the lifecycle position of the cached token
type State string

const (
	StateAbsent  State = "absent"
	StateValid   State = "valid"
	StateExpired State = "expired"
)

// Source fetches fresh tokens from the identity provider
type Source interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (*oauth2.Token, error)

// Token calls f
func (f SourceFunc) Token(ctx context.Context) (*oauth2.Token, error) {
	return f(ctx)
}

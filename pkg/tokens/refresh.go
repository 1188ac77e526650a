package tokens

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// GraphScope requests the application permissions granted to the app registration
	GraphScope = "https://graph.microsoft.com/.default"

	// MicrosoftTokenURLFormat is the v2.0 token endpoint; %s is the tenant id
	MicrosoftTokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// ClientCredentialsSource fetches app-only tokens from Microsoft identity
type ClientCredentialsSource struct {
	config     *clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentialsSource creates a source for tenantID. An empty tokenURL
// uses the Microsoft endpoint for the tenant; httpClient may be nil.
func NewClientCredentialsSource(tenantID, clientID, clientSecret, tokenURL string, httpClient *http.Client) *ClientCredentialsSource {
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(MicrosoftTokenURLFormat, tenantID)
	}

	return &ClientCredentialsSource{
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{GraphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token performs one client credentials grant
func (s *ClientCredentialsSource) Token(ctx context.Context) (*oauth2.Token, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	token, err := s.config.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("client credentials grant failed: %w", err)
	}
	return token, nil
}

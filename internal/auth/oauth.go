package auth

import (
	"context"
	"fmt"

	"github.com/mailmerge/mailmerge/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/sheets/v4"
)

// Scopes requested from the account owner
var Scopes = []string{
	gmail.GmailSendScope,
	gmail.GmailModifyScope,
	gmail.GmailLabelsScope,
	gmail.GmailComposeScope,
	sheets.SpreadsheetsReadonlyScope,
}

// GoogleOAuth runs the authorization code flow against Google
type GoogleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth creates a GoogleOAuth for the configured web client
func NewGoogleOAuth(cfg config.GmailConfig) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// Configured reports whether client credentials are present
func (o *GoogleOAuth) Configured() bool {
	return o.config.ClientID != "" && o.config.ClientSecret != ""
}

// Config returns the underlying oauth2 configuration
func (o *GoogleOAuth) Config() *oauth2.Config {
	return o.config
}

// AuthCodeURL returns the consent page URL. Offline access with forced
// consent makes Google return a refresh token every time.
func (o *GoogleOAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token
func (o *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return token, nil
}

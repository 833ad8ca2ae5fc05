package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/mailmerge/mailmerge/internal/email"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/repository"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated is returned when no Gmail account is signed in
var ErrNotAuthenticated = errors.New("no gmail account signed in")

// Credentials turns the stored OAuth token into authorized API clients
type Credentials struct {
	oauth        *GoogleOAuth
	tokens       repository.TokenStore
	refreshToken string
	senderName   string
	log          *logger.Logger
}

// NewCredentials creates Credentials. refreshToken, when set, is used if
// the store holds no token.
func NewCredentials(oauth *GoogleOAuth, tokens repository.TokenStore, refreshToken, senderName string, log *logger.Logger) *Credentials {
	return &Credentials{
		oauth:        oauth,
		tokens:       tokens,
		refreshToken: refreshToken,
		senderName:   senderName,
		log:          log.WithComponent("credentials"),
	}
}

// Authenticated reports whether a token is available
func (c *Credentials) Authenticated(ctx context.Context) bool {
	_, err := c.token(ctx)
	return err == nil
}

// Complete exchanges an authorization code and stores the token
func (c *Credentials) Complete(ctx context.Context, code string) error {
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return err
	}
	if err := c.tokens.Save(ctx, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	c.log.Info().Msg("gmail account signed in")
	return nil
}

// Logout forgets the stored token
func (c *Credentials) Logout(ctx context.Context) error {
	return c.tokens.Clear(ctx)
}

func (c *Credentials) token(ctx context.Context) (*oauth2.Token, error) {
	token, err := c.tokens.Load(ctx)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if c.refreshToken != "" {
		return &oauth2.Token{RefreshToken: c.refreshToken}, nil
	}
	return nil, ErrNotAuthenticated
}

// Client returns an HTTP client authorized for the signed-in account.
// Refreshed tokens are written back to the store. The client outlives ctx.
func (c *Credentials) Client(ctx context.Context) (*http.Client, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	base := context.WithoutCancel(ctx)
	ts := &storingTokenSource{
		base:   c.oauth.Config().TokenSource(base, token),
		last:   token,
		tokens: c.tokens,
		log:    c.log,
	}
	return oauth2.NewClient(base, oauth2.ReuseTokenSource(token, ts)), nil
}

// Mailbox returns the Gmail mailbox of the signed-in account
func (c *Credentials) Mailbox(ctx context.Context) (email.Mailbox, error) {
	client, err := c.Client(ctx)
	if err != nil {
		return nil, err
	}
	return email.NewGmailMailbox(context.WithoutCancel(ctx), client, c.senderName)
}

// storingTokenSource persists every newly minted access token
type storingTokenSource struct {
	base   oauth2.TokenSource
	tokens repository.TokenStore

	mu   sync.Mutex
	last *oauth2.Token
	log  *logger.Logger
}

func (s *storingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.last.AccessToken != token.AccessToken {
		if token.RefreshToken == "" && s.last != nil {
			token.RefreshToken = s.last.RefreshToken
		}
		if err := s.tokens.Save(context.Background(), token); err != nil {
			s.log.Warn().Err(err).Msg("failed to store refreshed token")
		}
		s.last = token
	}
	return token, nil
}

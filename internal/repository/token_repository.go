package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// TokenStore persists the OAuth2 token of the signed-in Gmail account
type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, token *oauth2.Token) error
	Clear(ctx context.Context) error
}

// FileTokenStore keeps the token as JSON in the state directory
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a FileTokenStore under dir
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Join(dir, "token.json")}
}

// Load reads the stored token
func (s *FileTokenStore) Load(_ context.Context) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return decodeToken(data)
}

// Save replaces the stored token
func (s *FileTokenStore) Save(_ context.Context, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// Clear removes the stored token
func (s *FileTokenStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

// RedisTokenStore keeps the token in Redis
type RedisTokenStore struct {
	rdb *database.Redis
	key string
}

// NewRedisTokenStore creates a RedisTokenStore
func NewRedisTokenStore(rdb *database.Redis) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb, key: rdb.Key("oauth_token")}
}

// Load reads the stored token
func (s *RedisTokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	data, err := s.rdb.GetBytes(ctx, s.key)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return decodeToken(data)
}

// Save replaces the stored token
func (s *RedisTokenStore) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.rdb.SetWithTTL(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// Clear removes the stored token
func (s *RedisTokenStore) Clear(ctx context.Context) error {
	if err := s.rdb.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNotFound
	}
	return &token, nil
}

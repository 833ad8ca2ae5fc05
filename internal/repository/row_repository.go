package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/redis/go-redis/v9"
)

// RowStore persists the working row set between requests and across
// restarts so that rows already marked Sent survive an interrupted run.
type RowStore interface {
	Load(ctx context.Context) (*model.RowSet, error)
	Save(ctx context.Context, rows *model.RowSet) error
	Clear(ctx context.Context) error
}

// FileRowStore keeps the row set as JSON in the state directory
type FileRowStore struct {
	path string
}

// NewFileRowStore creates a FileRowStore under dir
func NewFileRowStore(dir string) *FileRowStore {
	return &FileRowStore{path: filepath.Join(dir, "rows.json")}
}

// Load reads the stored row set
func (s *FileRowStore) Load(_ context.Context) (*model.RowSet, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return decodeRows(data)
}

// Save replaces the stored row set
func (s *FileRowStore) Save(_ context.Context, rows *model.RowSet) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// Clear removes the stored row set
func (s *FileRowStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove rows: %w", err)
	}
	return nil
}

// RedisRowStore keeps the row set as a JSON value in Redis
type RedisRowStore struct {
	rdb *database.Redis
	key string
}

// NewRedisRowStore creates a RedisRowStore
func NewRedisRowStore(rdb *database.Redis) *RedisRowStore {
	return &RedisRowStore{rdb: rdb, key: rdb.Key("rows")}
}

// Load reads the stored row set
func (s *RedisRowStore) Load(ctx context.Context) (*model.RowSet, error) {
	data, err := s.rdb.GetBytes(ctx, s.key)
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return decodeRows(data)
}

// Save replaces the stored row set
func (s *RedisRowStore) Save(ctx context.Context, rows *model.RowSet) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}
	if err := s.rdb.SetWithTTL(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

// Clear removes the stored row set
func (s *RedisRowStore) Clear(ctx context.Context) error {
	if err := s.rdb.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("failed to remove rows: %w", err)
	}
	return nil
}

func decodeRows(data []byte) (*model.RowSet, error) {
	var rows model.RowSet
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	rows.EnsureReservedColumns()
	return &rows, nil
}

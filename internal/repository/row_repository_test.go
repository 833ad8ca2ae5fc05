package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mailmerge/mailmerge/internal/database"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *database.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return database.NewRedisFromClient(client, "test:")
}

func sampleRows() *model.RowSet {
	return model.NewRowSet(
		[]string{"Name", "Email"},
		[][]string{
			{"Ada", "ada@example.com"},
			{"Bob", "bob@example.com"},
		},
	)
}

func TestRowStores(t *testing.T) {
	stores := map[string]RowStore{
		"file":  NewFileRowStore(t.TempDir()),
		"redis": NewRedisRowStore(newTestRedis(t)),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			rows := sampleRows()
			rows.Rows[0][model.ColumnStatus] = string(model.StatusSent)
			require.NoError(t, store.Save(ctx, rows))

			loaded, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, rows.Columns, loaded.Columns)
			assert.Equal(t, model.StatusSent, loaded.Rows[0].Status())
			assert.Equal(t, []int{1}, loaded.PendingIndices())

			require.NoError(t, store.Clear(ctx))
			_, err = store.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisRowStore_UsesPrefix(t *testing.T) {
	rdb := newTestRedis(t)
	store := NewRedisRowStore(rdb)
	require.NoError(t, store.Save(context.Background(), sampleRows()))

	n, err := rdb.Client.Exists(context.Background(), "test:rows").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

package store

import (
	"context"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			return newRedisStore(t)
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, "b", []byte(`{"step":"idle"}`)))
			require.NoError(t, s.Put(ctx, "a", []byte(`{"step":"shield_pending"}`)))
			require.NoError(t, s.Put(ctx, "b", []byte(`{"step":"completed"}`)))

			doc, err := s.Get(ctx, "b")
			require.NoError(t, err)
			assert.JSONEq(t, `{"step":"completed"}`, string(doc))

			ids, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)

			require.NoError(t, s.Delete(ctx, "a"))
			assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

			ids, err = s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "t1", []byte(`{"id":"t1"}`)))

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	doc, err := reopened.Get(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"t1"}`, string(doc))
}

func TestFileStoreRejectsInvalidDocuments(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Put(context.Background(), "", []byte(`{}`)))
	assert.Error(t, s.Put(context.Background(), "x", []byte(`{not json`)))
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+DefaultFileName, []byte("garbage"), 0o600))

	_, err := NewFileStore(dir)
	assert.Error(t, err)
}

package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStore_PutAndContent(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "files/abc123", "document body"))

	content, found, err := store.Content(ctx, "files/abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "document body", content)
}

func TestDirStore_MissingKeyIsNotError(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	content, found, err := store.Content(context.Background(), "files/never-stored")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, content)
}

func TestDirStore_DeleteMissingKeyIsNoop(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "files/never-stored"))
}

func TestDirStore_DeleteRemovesEntry(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "files/doomed", "bye"))
	require.NoError(t, store.Delete(ctx, "files/doomed"))

	_, found, err := store.Content(ctx, "files/doomed")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDirStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	for _, key := range []string{"../outside", "/etc/passwd", "files/../../up"} {
		_, _, err := store.Content(ctx, key)
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

package blockstore_test

import (
	"path/filepath"
	"testing"

	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBounds(t *testing.T) {
	assert.Equal(t, 0, blockstore.CheckBounds(0, 10, 100))
	assert.Equal(t, 1, blockstore.CheckBounds(95, 10, 100))
	assert.Equal(t, 2, blockstore.CheckBounds(100, 1, 100))
	assert.Equal(t, 2, blockstore.CheckBounds(150, 1, 100))
}

func TestMemoryStoreReadWriteRoundTrip(t *testing.T) {
	store := blockstore.NewMemoryStore(16, 512)
	ctx := t.Context()

	data := make([]byte, 512*2)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, store.WriteAt(ctx, 3, data))

	got, err := store.ReadAt(ctx, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMemoryStoreOutOfRange(t *testing.T) {
	store := blockstore.NewMemoryStore(4, 512)
	ctx := t.Context()

	_, err := store.ReadAt(ctx, 3, 5)
	assert.ErrorIs(t, err, blockstore.ErrOutOfRange)

	err = store.WriteAt(ctx, 10, make([]byte, 512))
	assert.ErrorIs(t, err, blockstore.ErrOutOfRange)
}

func TestFileStoreReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	store, err := blockstore.OpenFileStore(path, 32, 512, false)
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()
	data := []byte("hello block store payload padded to 512 bytes-----------------------------------------------------------------------------------------------------------------------------------------------------------------------------------------------------------")
	buf := make([]byte, 512)
	copy(buf, data)

	require.NoError(t, store.WriteAt(ctx, 1, buf))
	got, err := store.ReadAt(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, buf, got)

	blocks, blockSize := store.Capacity()
	assert.EqualValues(t, 32, blocks)
	assert.EqualValues(t, 512, blockSize)

	require.NoError(t, store.Flush(ctx))
}

func TestFileStoreReadOnlyRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk0.img")
	rw, err := blockstore.OpenFileStore(path, 4, 512, false)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := blockstore.OpenFileStore(path, 4, 512, true)
	require.NoError(t, err)
	defer ro.Close()

	err = ro.WriteAt(t.Context(), 0, make([]byte, 512))
	assert.ErrorIs(t, err, blockstore.ErrReadOnly)
}

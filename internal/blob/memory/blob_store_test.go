package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialtoolkit/lawharvest/internal/blob/memory"
)

func TestPutGet(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()

	uri, err := store.Put(context.Background(), "payloads/u1/x.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	assert.Equal(t, "memory://payloads/u1/x.html", uri)

	got, err := store.Get(context.Background(), "payloads/u1/x.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html/>"), got)
	assert.Equal(t, 1, store.Len())
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	_, err := memory.NewBlobStore().Get(context.Background(), "absent")
	assert.Error(t, err)
}

func TestPutCopiesData(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	data := []byte("original")
	_, err := store.Put(context.Background(), "p", "", data)
	require.NoError(t, err)

	data[0] = 'X'
	got, err := store.Get(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStorePutGet(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Put(context.Background(), "img_a1b2c3d4.png", "image/png", []byte{0x89, 0x50})
	require.NoError(t, err)

	data, contentType, ok := s.Get("img_a1b2c3d4.png")
	require.True(t, ok)
	require.Equal(t, []byte{0x89, 0x50}, data)
	require.Equal(t, "image/png", contentType)
	require.Equal(t, 1, s.Len())
}

func TestStorePutEmptyKey(t *testing.T) {
	t.Parallel()

	s := New()
	require.Error(t, s.Put(context.Background(), "", "text/plain", []byte("x")))
}

func TestStorePresign(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Put(context.Background(), "doc.pdf", "application/pdf", []byte("pdf")))

	url, err := s.Presign(context.Background(), "doc.pdf", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "memory://bucket/doc.pdf?ttl=3600", url)

	_, err = s.Presign(context.Background(), "missing.pdf", time.Hour)
	require.Error(t, err)
}

func TestStoreExists(t *testing.T) {
	t.Parallel()

	s := New()
	ok, err := s.Exists(context.Background(), "nope")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(context.Background(), "yes", "", nil))
	ok, err = s.Exists(context.Background(), "yes")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStorePutCopiesData(t *testing.T) {
	t.Parallel()

	s := New()
	payload := []byte("mutable")
	require.NoError(t, s.Put(context.Background(), "k", "", payload))
	payload[0] = 'X'

	data, _, ok := s.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("mutable"), data)
}

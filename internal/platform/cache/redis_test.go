package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client, err := New(t.Context(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, client.Set(t.Context(), "k", "v", 0).Err())
	require.NoError(t, client.Close())

	mr.Close()
	_, err = New(t.Context(), Options{Addr: addr})
	require.ErrorContains(t, err, "platform/cache: ping")
}

func TestNewSelectsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := New(t.Context(), Options{Addr: mr.Addr()})
	require.Error(t, err)

	client, err := New(t.Context(), Options{Addr: mr.Addr(), Password: "s3cret", DB: 2})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(t.Context(), "close:lock:1", "x", 0).Err())

	mr.Select(2)
	require.True(t, mr.Exists("close:lock:1"))
}

package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileBackendRoundtrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("sealed record bytes")
	require.NoError(t, backend.Put(ctx, "record.sealed", data))

	got, err := backend.Get(ctx, "record.sealed")
	require.NoError(t, err)
	require.Equal(t, data, got)

	exists, err := backend.Has(ctx, "record.sealed")
	require.NoError(t, err)
	require.True(t, exists)

	// Overwrite replaces content.
	require.NoError(t, backend.Put(ctx, "record.sealed", []byte("updated")))
	got, err = backend.Get(ctx, "record.sealed")
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), got)

	existed, err := backend.Delete(ctx, "record.sealed")
	require.NoError(t, err)
	require.True(t, existed)

	_, err = backend.Get(ctx, "record.sealed")
	require.True(t, errors.Is(err, interfaces.ErrRecordNotFound))

	existed, err = backend.Delete(ctx, "record.sealed")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "a/b", "a\\b", "a..b"} {
		err := backend.Put(ctx, name, []byte("x"))
		require.True(t, errors.Is(err, interfaces.ErrInvalidInput), "name %q", name)
	}
}

func TestMemoryBackendIsolation(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	data := []byte("mutable")
	require.NoError(t, backend.Put(ctx, "r", data))

	// Mutating the caller's slice does not affect the stored copy.
	data[0] = 'X'
	got, err := backend.Get(ctx, "r")
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), got)
}

func TestFactorySchemes(t *testing.T) {
	factory := NewFactory(testLogger())

	backend, err := factory.BackendFor("memory://")
	require.NoError(t, err)
	require.Equal(t, "memory", backend.Name())

	backend, err = factory.BackendFor("file://" + t.TempDir())
	require.NoError(t, err)
	require.Contains(t, backend.LocationURI(), "file://")

	testCases := []struct {
		name string
		uri  string
	}{
		{name: "Unsupported scheme", uri: "ftp://host/path"},
		{name: "File without path", uri: "file://"},
		{name: "S3 without bucket", uri: "s3:///prefix"},
		{name: "IPFS without host", uri: "ipfs://"},
		{name: "Vault without data path", uri: "vault://host:8200/onlymount"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := factory.BackendFor(tc.uri)
			require.True(t, errors.Is(err, interfaces.ErrInvalidLocationURI))
		})
	}
}

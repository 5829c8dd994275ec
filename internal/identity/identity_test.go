package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadGeneratesAndPersistsKey(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop()

	id1, err := Load(dir, log)
	require.NoError(t, err)

	id2, err := Load(dir, log)
	require.NoError(t, err)

	require.Equal(t, id1.PublicKeyHex(), id2.PublicKeyHex())
}

func TestSignatureRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id, err := Load(dir, zap.NewNop())
	require.NoError(t, err)

	payload := []byte("VALID:cost=12.34:ts=9999")
	sig := id.Sign(payload)

	require.True(t, Verify(id.PublicKey(), payload, sig))
	require.False(t, Verify(id.PublicKey(), append(payload, '!'), sig))
}

func TestKeyFileHasOwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

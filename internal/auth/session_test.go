package auth

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateAndAuthenticateJWT(t *testing.T) {
	Init()

	token, err := CreateJWT("uid-1")
	require.NoError(t, err)

	uid, err := AuthenticateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "uid-1", uid)

	_, err = AuthenticateJWT(token + "x")
	require.Error(t, err)
}

func TestInitFromPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "session.key")
	pubPath := filepath.Join(dir, "session.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o600))

	require.NoError(t, InitFromPath(privPath, pubPath))

	token, err := CreateJWT("uid-2")
	require.NoError(t, err)
	uid, err := AuthenticateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "uid-2", uid)

	// reloading the same files must keep existing tokens valid
	require.NoError(t, InitFromPath(privPath, pubPath))
	uid, err = AuthenticateJWT(token)
	require.NoError(t, err)
	require.Equal(t, "uid-2", uid)

	err = InitFromPath(filepath.Join(dir, "missing"), pubPath)
	require.Error(t, err)
}

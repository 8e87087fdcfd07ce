package storage

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("admin-1", "credentials/2026-03-01.csv")
	require.NoError(t, err)

	owner, path, parsedExpiry, err := signer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", owner)
	assert.Equal(t, "credentials/2026-03-01.csv", path)
	assert.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerRejectsExpiredAndTampered(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("admin-1", "credentials/a.csv")
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Minute)
	_, _, _, err = other.Parse(token)
	assert.Error(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, _, err = signer.Parse(token)
	assert.EqualError(t, err, "token expired")
}

func TestLocalStorageKeepsFilesInsideBaseDir(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save("credentials/a.csv", []byte("Email\n"))
	require.NoError(t, err)
	data, err := store.Read("credentials/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "Email\n", string(data))

	_, err = store.Read("../etc/passwd")
	assert.Error(t, err)
	_, err = store.Save(string(os.PathSeparator)+"tmp/x", nil)
	assert.Error(t, err)

	require.NoError(t, store.Delete("credentials/a.csv"))
	_, err = store.Read("credentials/a.csv")
	assert.Error(t, err)
}

package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-invoicing-api/pkg/storage"
)

func TestDownloadHandlerServesSignedExport(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	stored, err := store.Save("credentials/identifiants.csv", []byte("Email\n"))
	require.NoError(t, err)

	signer := storage.NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("admin-1", stored)
	require.NoError(t, err)

	handler := NewDownloadHandler(signer, store, zap.NewNop())
	c, rec := newTestContext(http.MethodGet, "/downloads/"+token, nil)
	c.Params = gin.Params{{Key: "token", Value: token}}

	handler.Download(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "identifiants.csv")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	_, statErr := os.Stat(filepath.Join(dir, stored))
	assert.NoError(t, statErr)
}

func TestDownloadHandlerRejectsTamperedToken(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	handler := NewDownloadHandler(storage.NewSignedURLSigner("secret", time.Minute), store, nil)
	c, rec := newTestContext(http.MethodGet, "/downloads/x", nil)
	c.Params = gin.Params{{Key: "token", Value: "admin.1.cGF0aA.bad"}}

	handler.Download(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type missingFiles struct{}

func (missingFiles) Read(string) ([]byte, error) { return nil, errors.New("gone") }

func TestDownloadHandlerMissingFile(t *testing.T) {
	signer := storage.NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("admin-1", "credentials/old.csv")
	require.NoError(t, err)
	handler := NewDownloadHandler(signer, missingFiles{}, nil)
	c, rec := newTestContext(http.MethodGet, "/downloads/"+token, nil)
	c.Params = gin.Params{{Key: "token", Value: token}}

	handler.Download(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

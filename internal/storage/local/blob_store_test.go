// Package local_test tests the local filesystem archive.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vacancy-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive", "pages")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(ctx, "vacancies/42/abc.html", "text/html", strings.NewReader("<html>first</html>"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(dir, "vacancies", "42", "abc.html")), uri)

	got, err := os.ReadFile(filepath.Join(dir, "vacancies", "42", "abc.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>first</html>", string(got))

	again, err := store.PutObject(ctx, "vacancies/42/abc.html", "text/html", strings.NewReader("<html>second</html>"))
	require.NoError(t, err)
	assert.Equal(t, uri, again)
	got, err = os.ReadFile(filepath.Join(dir, "vacancies", "42", "abc.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>first</html>", string(got), "existing pages are not rewritten")

	entries, err := os.ReadDir(filepath.Join(dir, "vacancies", "42"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "", "", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = store.PutObject(context.Background(), "../escape.html", "", strings.NewReader("x"))
	assert.Error(t, err)
}

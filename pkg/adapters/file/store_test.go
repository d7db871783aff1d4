package file_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/aretw0/latch/pkg/adapters/file"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/aretw0/latch/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store := file.New(t.TempDir())
	ports.RunCredentialStoreContract(t, store)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, file.New(dir).Set(ctx, domain.CredUserID, "42"))

	got, err := file.New(dir).Get(ctx, domain.CredUserID)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, file.FileName, entries[0].Name())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dir, file.FileName))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file.FileName), []byte("{not json"), 0o600))

	_, err := file.New(dir).Get(context.Background(), "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCredentialNotFound)
}

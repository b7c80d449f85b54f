package badger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "ledger")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "missing directories are created")
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	require.Error(t, err)
	assert.Nil(t, backend)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestWithTx_DiscardsOnError(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	key := []byte("probe")
	err = backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, []byte("v")); err != nil {
			return err
		}
		return assert.AnError
	}, true)
	require.ErrorIs(t, err, assert.AnError)

	err = backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		return err
	}, false)
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package camera

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSavePhoto(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.SavePhoto([]byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(path) || filepath.Dir(path) == store.BaseDir)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
}

func TestSavePhoto_Empty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.SavePhoto(nil)
	assert.ErrorIs(t, err, ErrEmptyPhoto)
}

func TestSavePhoto_UniquePaths(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a, err := store.SavePhoto([]byte("a"))
	require.NoError(t, err)
	b, err := store.SavePhoto([]byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestRemove(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, err := store.SavePhoto([]byte("x"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Removing again is a no-op.
	assert.NoError(t, store.Remove(path))
}

func TestRemove_OutsideStoreRejected(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "not-ours.jpg")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	assert.Error(t, store.Remove(other))
	_, err = os.Stat(other)
	assert.NoError(t, err, "foreign file untouched")
}

func TestList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.SavePhoto([]byte("a"))
	require.NoError(t, err)
	_, err = store.SavePhoto([]byte("b"))
	require.NoError(t, err)

	paths, err := store.List()
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

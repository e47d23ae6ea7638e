package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathsAreNamespaced(t *testing.T) {
	assert.Equal(t, "settings.toml", filepath.Base(SettingsFilePath()))
	assert.Contains(t, SettingsFilePath(), AppName)
	assert.Equal(t, "notes.db", filepath.Base(NotesDBPath()))
	assert.Contains(t, LogDir(), AppName)
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "file.db")
	require.NoError(t, EnsureDirs(target))

	info, err := os.Stat(filepath.Dir(target))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	worker := filepath.Join(root, "node_modules", "ssr-rs", "worker.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(worker), 0755))
	require.NoError(t, os.WriteFile(worker, []byte("// worker"), 0644))

	deep := filepath.Join(root, "src", "pages", "blog")
	require.NoError(t, os.MkdirAll(deep, 0755))

	found, err := FindUp(filepath.Join("node_modules", "ssr-rs", "worker.js"), deep)
	require.NoError(t, err)
	assert.Equal(t, worker, found)

	found, err = FindUp("node_modules", root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "node_modules"), found)

	_, err = FindUp("definitely-not-here-7f3a", deep)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

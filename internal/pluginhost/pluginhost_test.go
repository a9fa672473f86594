package pluginhost

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFails(t *testing.T) {
	h := New()
	err := h.Load(filepath.Join(t.TempDir(), "nonexistent.so"), nil)
	require.Error(t, err)
	require.Empty(t, h.Loaded())
}

func TestCloseWithNoPluginsLoadedIsANoOp(t *testing.T) {
	h := New()
	h.Close()
	require.Empty(t, h.Loaded())
}

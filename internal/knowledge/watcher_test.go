package knowledge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWatcher_MissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.toml"), zap.NewNop())
	assert.Error(t, err)
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConstraintsFile(t, dir, `forbidden_components = ["phenol"]`)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.Len(t, w.Current().ForbiddenComponents, 1)

	require.NoError(t, os.WriteFile(path, []byte(`forbidden_components = ["phenol", "chloroform"]`), 0o644))

	assert.Eventually(t, func() bool {
		return len(w.Current().ForbiddenComponents) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_KeepsPreviousOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConstraintsFile(t, dir, `forbidden_components = ["phenol"]`)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("forbidden_components = [broken"), 0o644))
	time.Sleep(200 * time.Millisecond)

	// The unparsable rewrite is ignored.
	assert.Equal(t, []string{"phenol"}, w.Current().ForbiddenComponents)

	// A later valid rewrite takes effect.
	require.NoError(t, os.WriteFile(path, []byte(`forbidden_components = ["phenol", "chloroform", "benzene"]`), 0o644))
	assert.Eventually(t, func() bool {
		return len(w.Current().ForbiddenComponents) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_ReloadViaRename(t *testing.T) {
	dir := t.TempDir()
	path := writeConstraintsFile(t, dir, `forbidden_components = ["phenol"]`)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	// Atomic-save editors write a temp file and rename it over the target.
	tmp := filepath.Join(dir, "constraints.toml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`forbidden_components = []

[[ratio_bounds]]
hbd = "urea"
hba = "choline chloride"
min = 0.5
max = 4.0
`), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		return len(w.Current().RatioBounds) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_PromptText(t *testing.T) {
	dir := t.TempDir()
	path := writeConstraintsFile(t, dir, `forbidden_components = ["phenol"]`)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	assert.Contains(t, w.PromptText(), "phenol")
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeConstraintsFile(t, dir, `forbidden_components = []`)

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	// Constraints stay readable after Close.
	assert.NotNil(t, w.Current())
}

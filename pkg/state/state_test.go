package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/state"
	"github.com/arthur-debert/confpack/pkg/testutil"
)

func sampleManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	man, err := manifest.Build(testutil.NewMemSource("myapp", map[string]string{
		"default/app.conf": "[ui]\nlabel = My App\n",
	}), manifest.BuildOptions{Version: "1.2.0"})
	require.NoError(t, err)
	return man
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))

	man := sampleManifest(t)
	require.NoError(t, state.Save(fsys, "/apps/myapp", &state.DeployedState{
		AppName:     "myapp",
		Version:     "1.2.0",
		Fingerprint: man.Fingerprint,
		ArchivePath: "/bundles/myapp-1.2.0.tgz",
		Manifest:    man,
	}))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "myapp", loaded.AppName)
	assert.Equal(t, "1.2.0", loaded.Version)
	assert.Equal(t, man.Fingerprint, loaded.Fingerprint)
	assert.Equal(t, state.FormatVersion, loaded.FormatVersion)
	require.NotNil(t, loaded.Manifest)
	assert.Equal(t, len(man.Files), len(loaded.Manifest.Files))
	assert.False(t, loaded.DeployedAt.IsZero())
}

func TestLoadAbsentMeansFreshInstall(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadEmptyFileMeansFreshInstall(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))
	require.NoError(t, fsys.WriteFile("/apps/myapp/"+state.FileName, []byte("  \n"), 0644))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadCorruptStateIsNotFreshInstall(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))
	require.NoError(t, fsys.WriteFile("/apps/myapp/"+state.FileName, []byte("{truncated"), 0644))

	_, err := state.Load(fsys, "/apps/myapp")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCorruptState))
}

func TestLoadStateMissingManifestIsCorrupt(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))
	require.NoError(t, fsys.WriteFile("/apps/myapp/"+state.FileName,
		[]byte(`{"app_name": "myapp", "fingerprint": "abc"}`), 0644))

	_, err := state.Load(fsys, "/apps/myapp")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCorruptState))
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))

	man := sampleManifest(t)
	require.NoError(t, state.Save(fsys, "/apps/myapp", &state.DeployedState{
		AppName:     "myapp",
		Fingerprint: man.Fingerprint,
		Manifest:    man,
	}))

	// Simulate a newer writer adding a field.
	data, err := fsys.ReadFile("/apps/myapp/" + state.FileName)
	require.NoError(t, err)
	patched := append([]byte(`{"future_field": true,`), data[1:]...)
	require.NoError(t, fsys.WriteFile("/apps/myapp/"+state.FileName, patched, 0644))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	assert.Equal(t, "myapp", loaded.AppName)
}

func TestSavePreservesExplicitTimestamp(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))

	deployedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	man := sampleManifest(t)
	require.NoError(t, state.Save(fsys, "/apps/myapp", &state.DeployedState{
		AppName:     "myapp",
		Fingerprint: man.Fingerprint,
		DeployedAt:  deployedAt,
		Manifest:    man,
	}))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	assert.True(t, loaded.DeployedAt.Equal(deployedAt))
}

func TestRemove(t *testing.T) {
	fsys := testutil.NewMemFS()
	require.NoError(t, fsys.MkdirAll("/apps/myapp", 0755))

	man := sampleManifest(t)
	require.NoError(t, state.Save(fsys, "/apps/myapp", &state.DeployedState{
		AppName:     "myapp",
		Fingerprint: man.Fingerprint,
		Manifest:    man,
	}))
	require.NoError(t, state.Remove(fsys, "/apps/myapp"))

	loaded, err := state.Load(fsys, "/apps/myapp")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// Removing again is not an error.
	require.NoError(t, state.Remove(fsys, "/apps/myapp"))
}

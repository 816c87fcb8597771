// Package testutil provides in-memory sources and filesystems for
// engine tests. Tests that exercise the rename-based applier against a
// real filesystem should prefer t.TempDir() with filesystem.NewOS().
package testutil

import (
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/confpack/pkg/filesystem"
	"github.com/arthur-debert/confpack/pkg/types"
)

// MemFile is one file in a MemSource.
type MemFile struct {
	Path  string
	Data  []byte
	Mode  fs.FileMode
	Layer string
}

// MemSource is a map-backed types.Source for tests.
type MemSource struct {
	Name     string
	FileList []MemFile
}

// NewMemSource builds a MemSource with 0644 files from a path→content
// map.
func NewMemSource(appName string, files map[string]string) *MemSource {
	src := &MemSource{Name: appName}
	for path, content := range files {
		src.FileList = append(src.FileList, MemFile{
			Path: path,
			Data: []byte(content),
			Mode: 0644,
		})
	}
	return src
}

// Add appends a file with explicit mode and returns the source for
// chaining.
func (s *MemSource) Add(path string, data []byte, mode fs.FileMode) *MemSource {
	s.FileList = append(s.FileList, MemFile{Path: path, Data: data, Mode: mode})
	return s
}

func (s *MemSource) AppName() string {
	return s.Name
}

func (s *MemSource) Files() ([]types.SourceFile, error) {
	out := make([]types.SourceFile, 0, len(s.FileList))
	for _, f := range s.FileList {
		out = append(out, types.SourceFile{
			Path:  f.Path,
			Mode:  f.Mode,
			Layer: f.Layer,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(f.Data)), nil
			},
		})
	}
	return out, nil
}

// NewMemFS returns an afero-backed in-memory types.FS.
func NewMemFS() types.FS {
	return filesystem.NewAferoFS(afero.NewMemMapFs())
}

// WriteTree populates fs with the given path→content files under root,
// creating parent directories as needed.
func WriteTree(t *testing.T, fsys types.FS, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := root + "/" + path
		dir := full[:lastSlash(full)]
		require.NoError(t, fsys.MkdirAll(dir, 0755))
		require.NoError(t, fsys.WriteFile(full, []byte(content), 0644))
	}
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}
	return 0
}

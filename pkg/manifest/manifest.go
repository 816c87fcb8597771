package manifest

import (
	"io"
	"io/fs"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/types"
)

// FileEntry is one file in a manifest. Paths are POSIX-style,
// normalized, relative to the app root, and unique (byte-exact,
// case-sensitive) within one manifest.
type FileEntry struct {
	Path string      `json:"path"`
	Hash string      `json:"hash"`
	Size int64       `json:"size"`
	Mode fs.FileMode `json:"mode"`

	// Layer records which source layer supplied the final bytes
	// (package path only). Diagnostic, excluded from the fingerprint.
	Layer string `json:"layer,omitempty"`

	// LocallyModified marks a deployed file whose on-disk content no
	// longer matches the recorded hash (sideload path only).
	LocallyModified bool `json:"locally_modified,omitempty"`
}

// Manifest is the canonical description of an app's file set used for
// idempotency comparison. Files are kept sorted by path; the
// fingerprint is a pure function of the (path, hash, mode) set.
type Manifest struct {
	AppName     string      `json:"app_name"`
	Version     string      `json:"version,omitempty"`
	Fingerprint string      `json:"fingerprint"`
	CreatedAt   time.Time   `json:"created_at"`
	Files       []FileEntry `json:"files"`
}

// BuildOptions adjust manifest construction.
type BuildOptions struct {
	// Version is a free-form source version string recorded in the
	// manifest (not part of the fingerprint).
	Version string

	// CaseInsensitive enables the case-insensitive path collision
	// policy for targets on case-insensitive filesystems.
	CaseInsensitive bool

	// Workers bounds concurrent per-file hashing. Zero means
	// GOMAXPROCS.
	Workers int
}

// Build constructs a Manifest from a source. Per-file hashing runs
// concurrently; the result is assembled by sorting on path, so the
// fingerprint is reproducible regardless of worker scheduling or the
// source's enumeration order.
func Build(src types.Source, opts BuildOptions) (*Manifest, error) {
	logger := logging.GetLogger("manifest")

	files, err := src.Files()
	if err != nil {
		return nil, err
	}

	entries := make([]FileEntry, len(files))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var group errgroup.Group
	group.SetLimit(workers)
	for i, file := range files {
		group.Go(func() error {
			relPath, err := NormalizePath(file.Path)
			if err != nil {
				return err
			}
			reader, err := file.Open()
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "opening %s", relPath).WithPath(relPath)
			}
			data, err := io.ReadAll(reader)
			closeErr := reader.Close()
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "reading %s", relPath).WithPath(relPath)
			}
			if closeErr != nil {
				return errors.Wrapf(closeErr, errors.ErrFileSystem, "closing %s", relPath).WithPath(relPath)
			}
			entries[i] = FileEntry{
				Path:  relPath,
				Hash:  HashContent(data),
				Size:  int64(len(data)),
				Mode:  file.Mode.Perm(),
				Layer: file.Layer,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if err := checkCollisions(entries, opts.CaseInsensitive); err != nil {
		return nil, err
	}

	m := &Manifest{
		AppName:     src.AppName(),
		Version:     opts.Version,
		Fingerprint: Fingerprint(entries),
		CreatedAt:   time.Now().UTC(),
		Files:       entries,
	}
	logger.Debug().
		Str("app", m.AppName).
		Int("files", len(m.Files)).
		Str("fingerprint", ShortHash(m.Fingerprint)).
		Msg("Manifest built")
	return m, nil
}

// FromTree rebuilds a manifest from a live directory tree. Used when a
// state record is missing and the operator asked for a rebuild; also
// the basis for local-modification detection. exclude filters
// relative paths (the state file itself, for one) out of the manifest.
func FromTree(filesystem types.FS, root, appName string, exclude func(rel string) bool) (*Manifest, error) {
	var entries []FileEntry

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		dirEntries, err := filesystem.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileSystem, "listing %s", dir).WithPath(dir)
		}
		for _, de := range dirEntries {
			childRel := de.Name()
			if rel != "" {
				childRel = rel + "/" + de.Name()
			}
			childAbs := dir + "/" + de.Name()
			if de.IsDir() {
				if err := walk(childAbs, childRel); err != nil {
					return err
				}
				continue
			}
			if exclude != nil && exclude(childRel) {
				continue
			}
			data, err := filesystem.ReadFile(childAbs)
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "reading %s", childAbs).WithPath(childAbs)
			}
			info, err := de.Info()
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "stat %s", childAbs).WithPath(childAbs)
			}
			entries = append(entries, FileEntry{
				Path: childRel,
				Hash: HashContent(data),
				Size: int64(len(data)),
				Mode: info.Mode().Perm(),
			})
		}
		return nil
	}

	if err := walk(root, ""); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	return &Manifest{
		AppName:     appName,
		Fingerprint: Fingerprint(entries),
		CreatedAt:   time.Now().UTC(),
		Files:       entries,
	}, nil
}

// PathSet returns the manifest's paths as a set.
func (m *Manifest) PathSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Files))
	for _, f := range m.Files {
		set[f.Path] = struct{}{}
	}
	return set
}

// Lookup returns the entry for a path, if present.
func (m *Manifest) Lookup(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Paths returns the sorted list of paths in the manifest.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

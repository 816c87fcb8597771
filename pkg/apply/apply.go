// Package apply executes a change set against a deployed app
// directory. Every file lands via a temp sibling plus an atomic
// rename, so readers of the app directory never observe a partially
// written file. Directory cleanup after removals is deferred to the
// end of the run.
package apply

import (
	stderrors "errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/arthur-debert/confpack/pkg/diff"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/state"
	"github.com/arthur-debert/confpack/pkg/types"
)

// tmpSuffix marks in-flight temp siblings. A crashed run may leave
// them behind; they are harmless and overwritten by the next run.
const tmpSuffix = ".confpack-tmp"

// Policy selects how a mid-run failure is handled.
type Policy string

const (
	// PolicyFailFast stops at the first failed file.
	PolicyFailFast Policy = "fail_fast"

	// PolicyBestEffort keeps going and reports every failure at the
	// end. Already-applied files are not rolled back.
	PolicyBestEffort Policy = "best_effort"
)

// Options tunes one apply run.
type Options struct {
	// Policy defaults to PolicyFailFast.
	Policy Policy

	// DryRun plans only: no filesystem mutation, the result reports
	// what would have happened.
	DryRun bool
}

// Result reports what an apply run did (or, under DryRun, would do).
type Result struct {
	Created []string
	Updated []string
	Removed []string

	// Failed maps paths to their errors under PolicyBestEffort.
	Failed map[string]error
}

// Changed reports whether the run touched (or would touch) anything.
func (r *Result) Changed() bool {
	return len(r.Created) > 0 || len(r.Updated) > 0 || len(r.Removed) > 0
}

// Apply materializes the change set from src into appDir. On full
// success the mutation order is: writes (creates and updates),
// removals, then empty directory cleanup. Callers persist state only
// after Apply returns nil.
func Apply(fsys types.FS, appDir string, src types.Source, cs diff.ChangeSet, opts Options) (*Result, error) {
	logger := logging.GetLogger("apply")

	if opts.Policy == "" {
		opts.Policy = PolicyFailFast
	}

	result := &Result{Failed: map[string]error{}}
	if cs.Empty() {
		return result, nil
	}

	if opts.DryRun {
		result.Created = append(result.Created, cs.Created...)
		result.Updated = append(result.Updated, cs.Updated...)
		result.Removed = append(result.Removed, cs.Removed...)
		return result, nil
	}

	bodies, modes, err := indexSource(src)
	if err != nil {
		return nil, err
	}

	fail := func(relPath string, err error) error {
		if opts.Policy == PolicyBestEffort {
			result.Failed[relPath] = err
			return nil
		}
		return err
	}

	for _, relPath := range cs.Created {
		if err := writeFile(fsys, appDir, relPath, bodies, modes); err != nil {
			if err := fail(relPath, err); err != nil {
				return result, err
			}
			continue
		}
		result.Created = append(result.Created, relPath)
	}
	for _, relPath := range cs.Updated {
		if err := writeFile(fsys, appDir, relPath, bodies, modes); err != nil {
			if err := fail(relPath, err); err != nil {
				return result, err
			}
			continue
		}
		result.Updated = append(result.Updated, relPath)
	}

	var cleanupDirs []string
	for _, relPath := range cs.Removed {
		target := appDir + "/" + relPath
		if err := fsys.Remove(target); err != nil && !isNotExist(err) {
			wrapped := errors.Wrapf(err, errors.ErrFileSystem, "removing %s", relPath).WithPath(target)
			if err := fail(relPath, wrapped); err != nil {
				return result, err
			}
			continue
		}
		result.Removed = append(result.Removed, relPath)
		if dir := path.Dir(relPath); dir != "." {
			cleanupDirs = append(cleanupDirs, dir)
		}
	}

	pruneEmptyDirs(fsys, appDir, cleanupDirs)

	if len(result.Failed) > 0 {
		paths := make([]string, 0, len(result.Failed))
		for p := range result.Failed {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return result, errors.Newf(errors.ErrFileSystem,
			"%d of %d changes failed", len(result.Failed),
			len(cs.Created)+len(cs.Updated)+len(cs.Removed)).
			WithDetail("failed_paths", paths)
	}

	logger.Info().
		Str("app_dir", appDir).
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Int("removed", len(result.Removed)).
		Msg("Applied change set")
	return result, nil
}

// indexSource loads every source file body into memory keyed by path.
func indexSource(src types.Source) (map[string][]byte, map[string]uint32, error) {
	files, err := src.Files()
	if err != nil {
		return nil, nil, err
	}
	bodies := make(map[string][]byte, len(files))
	modes := make(map[string]uint32, len(files))
	for _, f := range files {
		reader, err := f.Open()
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.ErrFileSystem, "reading source %s", f.Path).WithPath(f.Path)
		}
		bodies[f.Path] = data
		modes[f.Path] = uint32(f.Mode.Perm())
	}
	return bodies, modes, nil
}

// writeFile lands one file through a temp sibling. The temp file gets
// its final permissions before the rename so the visible file never
// has transient modes.
func writeFile(fsys types.FS, appDir, relPath string, bodies map[string][]byte, modes map[string]uint32) error {
	data, ok := bodies[relPath]
	if !ok {
		return errors.Newf(errors.ErrInternal, "change set names %s but the source does not provide it", relPath).WithPath(relPath)
	}

	target := appDir + "/" + relPath
	if dir := path.Dir(target); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, errors.ErrFileSystem, "creating directory %s", dir).WithPath(dir)
		}
	}

	tmp := target + tmpSuffix
	if err := fsys.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrapf(err, errors.ErrFileSystem, "writing temp file for %s", relPath).WithPath(tmp)
	}
	if err := fsys.Chmod(tmp, fs.FileMode(modes[relPath])); err != nil {
		fsys.Remove(tmp)
		return errors.Wrapf(err, errors.ErrFileSystem, "setting mode on %s", relPath).WithPath(tmp)
	}
	if err := fsys.Rename(tmp, target); err != nil {
		fsys.Remove(tmp)
		return errors.Wrapf(err, errors.ErrFileSystem, "renaming %s into place", relPath).WithPath(target)
	}
	return nil
}

// pruneEmptyDirs removes directories emptied by removals, deepest
// first, walking each one up toward appDir. Failures are ignored; a
// non-empty directory simply stays.
func pruneEmptyDirs(fsys types.FS, appDir string, dirs []string) {
	seen := map[string]bool{}
	var candidates []string
	for _, dir := range dirs {
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			if !seen[d] {
				seen[d] = true
				candidates = append(candidates, d)
			}
		}
	}
	// Deepest first so children go before parents.
	sort.Slice(candidates, func(i, j int) bool {
		return strings.Count(candidates[i], "/") > strings.Count(candidates[j], "/")
	})

	for _, dir := range candidates {
		full := appDir + "/" + dir
		entries, err := fsys.ReadDir(full)
		if err != nil || len(entries) > 0 {
			continue
		}
		fsys.Remove(full)
	}
}

func isNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

// StateAfter builds the deploy state to persist once Apply succeeds.
func StateAfter(appName, version, archivePath string, man *manifest.Manifest) *state.DeployedState {
	return &state.DeployedState{
		AppName:     appName,
		Version:     version,
		ArchivePath: archivePath,
		Fingerprint: man.Fingerprint,
		Manifest:    man,
	}
}

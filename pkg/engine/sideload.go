package engine

import (
	"strings"

	"github.com/arthur-debert/confpack/pkg/apply"
	"github.com/arthur-debert/confpack/pkg/archive"
	"github.com/arthur-debert/confpack/pkg/diff"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/state"
)

// SideloadRequest describes one deploy run.
type SideloadRequest struct {
	// ArchivePath is the app bundle to deploy.
	ArchivePath string

	// TargetDir is the apps root; the app lands in
	// TargetDir/<app_name>/.
	TargetDir string

	// DryRun plans only.
	DryRun bool
}

// SideloadResult reports a deploy run.
type SideloadResult struct {
	AppName   string
	AppDir    string
	Status    Status
	ChangeSet diff.ChangeSet
	Applied   *apply.Result
	Manifest  *manifest.Manifest
}

// Sideload deploys an archive into the target directory, diffing
// against the recorded deploy state. Equal fingerprints mean zero
// filesystem I/O. State is written only after every change landed.
func (e *Engine) Sideload(req SideloadRequest) (*SideloadResult, error) {
	defer logging.LogOperationStart(e.logger, "sideload")()

	if req.ArchivePath == "" {
		return nil, errors.New(errors.ErrInvalidInput, "archive path is required")
	}
	if req.TargetDir == "" {
		return nil, errors.New(errors.ErrInvalidInput, "target directory is required")
	}

	arc, err := archive.Open(e.fs, req.ArchivePath, e.crypter)
	if err != nil {
		return nil, err
	}

	man := arc.Manifest
	if man == nil {
		// Older bundles without an embedded manifest get one rebuilt
		// from their contents.
		man, err = manifest.Build(arc, manifest.BuildOptions{
			CaseInsensitive: e.cfg.Sideload.CaseInsensitive,
		})
		if err != nil {
			return nil, err
		}
	}

	appDir := req.TargetDir + "/" + arc.AppName()
	result := &SideloadResult{
		AppName:  arc.AppName(),
		AppDir:   appDir,
		Manifest: man,
	}

	prev, err := state.Load(e.fs, appDir)
	if err != nil {
		return nil, err
	}
	var prevMan *manifest.Manifest
	if prev != nil {
		prevMan = prev.Manifest
	}

	cs := diff.Compare(prevMan, man, diff.Options{Preserve: e.cfg.Sideload.Preserve})
	result.ChangeSet = cs

	if cs.Empty() {
		result.Status = StatusUnchanged
		e.logger.Info().
			Str("app", result.AppName).
			Str("fingerprint", manifest.ShortHash(man.Fingerprint)).
			Msg("Deployed app already current")
		return result, nil
	}
	if prev == nil {
		result.Status = StatusInstalled
	} else {
		result.Status = StatusUpdated
	}

	applied, err := apply.Apply(e.fs, appDir, arc, cs, apply.Options{
		Policy: apply.Policy(e.cfg.Sideload.Policy),
		DryRun: req.DryRun,
	})
	result.Applied = applied
	if err != nil {
		return result, err
	}

	if !req.DryRun {
		if err := state.Save(e.fs, appDir, apply.StateAfter(
			result.AppName, man.Version, req.ArchivePath, man)); err != nil {
			return result, err
		}
	}

	e.logger.Info().
		Str("app", result.AppName).
		Str("status", string(result.Status)).
		Bool("dry_run", req.DryRun).
		Msg("Sideload complete")
	return result, nil
}

// ListManifest returns the manifest of an archive: the embedded one
// when present, a rebuilt one otherwise.
func (e *Engine) ListManifest(archivePath string) (*manifest.Manifest, error) {
	arc, err := archive.Open(e.fs, archivePath, e.crypter)
	if err != nil {
		return nil, err
	}
	if arc.Manifest != nil {
		return arc.Manifest, nil
	}
	return manifest.Build(arc, manifest.BuildOptions{})
}

// VerifyResult reports how a deployed app directory compares with its
// recorded state.
type VerifyResult struct {
	State    *state.DeployedState
	Modified []string
	Missing  []string
}

// Verify compares a deployed app directory against its state record,
// listing files whose content changed and files that disappeared.
// Deployed-only files (preserved local content) are not flagged.
func (e *Engine) Verify(appDir string) (*VerifyResult, error) {
	st, err := state.Load(e.fs, appDir)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.Newf(errors.ErrNotFound, "no deploy state under %s", appDir).WithPath(appDir)
	}

	tree, err := manifest.FromTree(e.fs, appDir, st.AppName, isInternalPath)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{State: st}
	for _, entry := range st.Manifest.Files {
		current, ok := tree.Lookup(entry.Path)
		switch {
		case !ok:
			result.Missing = append(result.Missing, entry.Path)
		case current.Hash != entry.Hash:
			result.Modified = append(result.Modified, entry.Path)
		}
	}
	return result, nil
}

// RebuildState reconstructs the state record from the live tree, for
// app directories whose state file was lost. Local modifications are
// absorbed as the new baseline.
func (e *Engine) RebuildState(appDir, appName string) (*state.DeployedState, error) {
	man, err := manifest.FromTree(e.fs, appDir, appName, isInternalPath)
	if err != nil {
		return nil, err
	}
	st := apply.StateAfter(appName, "", "", man)
	if err := state.Save(e.fs, appDir, st); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("app", appName).
		Int("files", len(man.Files)).
		Msg("Rebuilt deploy state from tree")
	return st, nil
}

// isInternalPath filters confpack's own bookkeeping files out of tree
// scans.
func isInternalPath(rel string) bool {
	return rel == state.FileName || strings.HasSuffix(rel, ".confpack-tmp") || strings.HasSuffix(rel, state.FileName+".tmp")
}

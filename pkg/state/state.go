// Package state persists what a deploy left behind. Each deployed app
// directory carries one JSON state file recording the manifest that
// was applied; the next deploy diffs against it instead of trusting
// the directory contents.
package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"time"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/types"
)

// FileName is the per-app state file, written into the deployed app
// directory.
const FileName = ".confpack_state.json"

// FormatVersion guards forward readability. Readers accept any state
// file whose known fields parse; unknown fields are ignored.
const FormatVersion = 1

// DeployedState records the outcome of the last successful deploy of
// one app.
type DeployedState struct {
	FormatVersion int       `json:"format_version"`
	AppName       string    `json:"app_name"`
	Version       string    `json:"version,omitempty"`
	Fingerprint   string    `json:"fingerprint"`
	DeployedAt    time.Time `json:"deployed_at"`

	// ArchivePath is the bundle the deploy came from, for operator
	// forensics only.
	ArchivePath string `json:"archive_path,omitempty"`

	// Manifest is the full manifest that was applied.
	Manifest *manifest.Manifest `json:"manifest"`
}

// Load reads the state file under appDir. A missing or empty file
// means no recorded deploy and returns (nil, nil); a present but
// unparseable file is corruption and fails with ErrCorruptState so
// the caller can decide, never a silent fresh-install.
func Load(fsys types.FS, appDir string) (*DeployedState, error) {
	statePath := appDir + "/" + FileName

	data, err := fsys.ReadFile(statePath)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.ErrFileSystem, "reading state file %s", statePath).WithPath(statePath)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var st DeployedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.Wrapf(err, errors.ErrCorruptState,
			"state file %s is unreadable; refusing to guess what is deployed", statePath).WithPath(statePath)
	}
	if st.Fingerprint == "" || st.Manifest == nil {
		return nil, errors.Newf(errors.ErrCorruptState,
			"state file %s is missing its manifest", statePath).WithPath(statePath)
	}
	return &st, nil
}

// Save writes the state file atomically: temp sibling then rename.
// It is the last step of a deploy; a crash before Save leaves the old
// state in place.
func Save(fsys types.FS, appDir string, st *DeployedState) error {
	logger := logging.GetLogger("state")

	st.FormatVersion = FormatVersion
	if st.DeployedAt.IsZero() {
		st.DeployedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "encoding deploy state")
	}
	data = append(data, '\n')

	statePath := appDir + "/" + FileName
	tmpPath := statePath + ".tmp"
	if err := fsys.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.Wrapf(err, errors.ErrFileSystem, "writing state temp file %s", tmpPath).WithPath(tmpPath)
	}
	if err := fsys.Rename(tmpPath, statePath); err != nil {
		return errors.Wrapf(err, errors.ErrFileSystem, "committing state file %s", statePath).WithPath(statePath)
	}

	logger.Debug().
		Str("app", st.AppName).
		Str("fingerprint", manifest.ShortHash(st.Fingerprint)).
		Msg("Saved deploy state")
	return nil
}

// Remove deletes the state file, ignoring absence.
func Remove(fsys types.FS, appDir string) error {
	err := fsys.Remove(appDir + "/" + FileName)
	if err != nil && !isNotExist(err) {
		return errors.Wrap(err, errors.ErrFileSystem, "removing state file")
	}
	return nil
}

func isNotExist(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist)
}

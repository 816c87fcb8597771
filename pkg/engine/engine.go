// Package engine orchestrates the two pipelines: packaging layered
// sources into archives, and sideloading archives into deployed app
// directories. All composition-phase failures abort before any
// filesystem mutation; state is committed only after a fully
// successful apply.
package engine

import (
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arthur-debert/confpack/pkg/archive"
	"github.com/arthur-debert/confpack/pkg/conf"
	"github.com/arthur-debert/confpack/pkg/config"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/layers"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/template"
	"github.com/arthur-debert/confpack/pkg/types"
)

// Status classifies what an operation did.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusSkipped   Status = "skipped"
	StatusInstalled Status = "installed"
	StatusUnchanged Status = "unchanged"
)

// Engine runs packaging and sideload pipelines against one filesystem
// with one resolved configuration.
type Engine struct {
	fs      types.FS
	cfg     *config.Config
	crypter types.Crypter
	logger  zerolog.Logger
}

// New builds an Engine. crypter may be nil for plaintext operation.
func New(fsys types.FS, cfg *config.Config, crypter types.Crypter) *Engine {
	return &Engine{
		fs:      fsys,
		cfg:     cfg,
		crypter: crypter,
		logger:  logging.GetLogger("engine"),
	}
}

// PackageRequest describes one packaging run.
type PackageRequest struct {
	// AppName is the app identifier; becomes the top-level archive
	// directory.
	AppName string

	// SourceDir is the layer root (ranked NN-name subdirectories, or a
	// flat app tree).
	SourceDir string

	// Version overrides the version extracted from app.conf.
	Version string

	// TemplateVars is the render context for template files.
	TemplateVars template.Context

	// OutputDir overrides the configured output directory.
	OutputDir string
}

// PackageResult reports a packaging run.
type PackageResult struct {
	ArchivePath string
	Status      Status
	Manifest    *manifest.Manifest
	Facts       conf.AppFacts
	Layers      []string
}

// Package composes the source layers, builds the manifest, and writes
// the archive. When an archive with the same name already exists and
// its embedded manifest carries the same fingerprint, nothing is
// written and the result is StatusSkipped.
func (e *Engine) Package(req PackageRequest) (*PackageResult, error) {
	defer logging.LogOperationStart(e.logger, "package")()

	if req.AppName == "" {
		return nil, errors.New(errors.ErrInvalidInput, "app name is required")
	}
	if req.SourceDir == "" {
		return nil, errors.New(errors.ErrInvalidInput, "source directory is required")
	}

	found, err := layers.Discover(e.fs, req.SourceDir)
	if err != nil {
		return nil, err
	}
	filtered := layers.ApplyFilters(found, e.cfg.Layers.Filters)
	enabled := layers.EnabledNames(filtered)
	if len(enabled) == 0 {
		return nil, errors.Newf(errors.ErrInvalidInput,
			"layer filters leave no layers enabled for %s", req.AppName)
	}

	src, err := layers.Compose(e.fs, req.AppName, filtered, layers.ComposeOptions{
		Strict:         e.cfg.Package.Strict,
		Blocklist:      e.cfg.Package.Blocklist,
		Local:          layers.LocalPolicy(e.cfg.Package.LocalPolicy),
		TemplateSuffix: e.cfg.Package.TemplateSuffix,
		TemplateVars:   req.TemplateVars,
	})
	if err != nil {
		return nil, err
	}

	facts, err := e.appFacts(src)
	if err != nil {
		return nil, err
	}
	version := req.Version
	if version == "" {
		version = facts.Version
	}

	man, err := manifest.Build(src, manifest.BuildOptions{
		Version:         version,
		CaseInsensitive: e.cfg.Sideload.CaseInsensitive,
	})
	if err != nil {
		return nil, err
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = e.cfg.Package.OutputDir
	}
	archivePath := outputDir + "/" + expandName(e.cfg.Package.NameTemplate, req.AppName, version, enabled)

	result := &PackageResult{
		ArchivePath: archivePath,
		Manifest:    man,
		Facts:       facts,
		Layers:      enabled,
	}

	status := StatusCreated
	if existing, err := archive.Open(e.fs, archivePath, nil); err == nil && existing.Manifest != nil {
		if existing.Manifest.Fingerprint == man.Fingerprint {
			result.Status = StatusSkipped
			e.logger.Info().
				Str("app", req.AppName).
				Str("archive", archivePath).
				Msg("Archive already current, skipping")
			return result, nil
		}
		status = StatusUpdated
	}

	if err := e.fs.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileSystem, "creating output directory %s", outputDir).WithPath(outputDir)
	}
	if err := archive.Write(e.fs, archivePath, man, src, archive.WriteOptions{
		Format:  archive.Format(e.cfg.Package.Format),
		Crypter: e.crypter,
	}); err != nil {
		return nil, err
	}

	result.Status = status
	e.logger.Info().
		Str("app", req.AppName).
		Str("archive", archivePath).
		Str("status", string(status)).
		Int("files", len(man.Files)).
		Msg("Packaged app")
	return result, nil
}

// appFacts extracts app.conf facts from a composed source. Both
// default and local copies are consulted, local winning per key.
func (e *Engine) appFacts(src types.Source) (conf.AppFacts, error) {
	files, err := src.Files()
	if err != nil {
		return conf.AppFacts{}, err
	}

	merged := conf.File{}
	for _, name := range []string{"default/app.conf", "local/app.conf"} {
		for _, f := range files {
			if f.Path != name {
				continue
			}
			reader, err := f.Open()
			if err != nil {
				return conf.AppFacts{}, err
			}
			data, err := io.ReadAll(reader)
			reader.Close()
			if err != nil {
				return conf.AppFacts{}, errors.Wrapf(err, errors.ErrFileSystem, "reading %s", name).WithPath(name)
			}
			parsed, err := conf.Parse(name, data)
			if err != nil {
				return conf.AppFacts{}, err
			}
			merged = conf.Merge(merged, parsed)
		}
	}
	return conf.FactsFromAppConf(merged), nil
}

// expandName fills the archive name placeholders. A missing version
// becomes "unversioned" so the name never collapses to "app-.tgz".
func expandName(nameTemplate, appName, version string, enabledLayers []string) string {
	if version == "" {
		version = "unversioned"
	}
	layersHash := manifest.ShortHash(manifest.HashStrings(enabledLayers))
	return strings.NewReplacer(
		"{{app_name}}", appName,
		"{{version}}", version,
		"{{layers_hash}}", layersHash,
	).Replace(nameTemplate)
}

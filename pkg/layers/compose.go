package layers

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/arthur-debert/confpack/pkg/conf"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/template"
	"github.com/arthur-debert/confpack/pkg/types"
)

// LocalPolicy controls how local override artifacts (local/ trees and
// local.meta files) are treated during composition.
type LocalPolicy string

const (
	// LocalPreserve keeps local artifacts in the composed output.
	LocalPreserve LocalPolicy = "preserve"

	// LocalBlock drops local artifacts from the composed output.
	LocalBlock LocalPolicy = "block"

	// LocalPromote merges local/*.conf into the matching default/*.conf
	// and local.meta into default.meta, then drops the local copies.
	LocalPromote LocalPolicy = "promote"
)

// ComposeOptions tunes one composition run.
type ComposeOptions struct {
	// Strict turns same-rank duplicate path claims into an error
	// instead of a lexical tiebreak.
	Strict bool

	// Blocklist globs drop matching paths from every layer. Patterns
	// match the base name or the whole relative path.
	Blocklist []string

	// Local selects the local artifact policy. Defaults to
	// LocalPreserve.
	Local LocalPolicy

	// TemplateSuffix marks files to render during composition. Empty
	// disables template expansion.
	TemplateSuffix string

	// TemplateVars is the render context for template files.
	TemplateVars template.Context
}

// composedFile is a fully materialized output file. Composition reads
// every winning file into memory so that template and policy failures
// surface before anything is written.
type composedFile struct {
	path  string
	data  []byte
	mode  fs.FileMode
	layer string
	rank  int
}

// composedSource is the types.Source produced by Compose.
type composedSource struct {
	appName string
	files   []composedFile
}

func (s *composedSource) AppName() string { return s.appName }

func (s *composedSource) Files() ([]types.SourceFile, error) {
	out := make([]types.SourceFile, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, types.SourceFile{
			Path:  f.path,
			Mode:  f.mode,
			Layer: f.layer,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(f.data)), nil
			},
		})
	}
	return out, nil
}

// Compose merges the enabled layers into a single app source. Later
// ranks win per path; template files are rendered and validated here so
// a bad template aborts before any output exists.
func Compose(fsys types.FS, appName string, layerList []Layer, opts ComposeOptions) (types.Source, error) {
	logger := logging.GetLogger("layers")

	if opts.Local == "" {
		opts.Local = LocalPreserve
	}

	merged := map[string]composedFile{}
	for _, layer := range layerList {
		if !layer.Enabled {
			continue
		}
		files, err := collectLayer(fsys, layer)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if blocked(f.path, opts.Blocklist) {
				logger.Debug().Str("path", f.path).Str("layer", layer.Name).Msg("Path dropped by blocklist")
				continue
			}
			prev, seen := merged[f.path]
			if seen && prev.rank == f.rank && prev.layer != f.layer {
				if opts.Strict {
					return nil, errors.Newf(errors.ErrLayerConflict,
						"path %s claimed by layers %s and %s at the same rank",
						f.path, prev.layer, f.layer).WithPath(f.path).
						WithDetail("layers", []string{prev.layer, f.layer})
				}
				// Lexically later layer name wins, matching discovery
				// order.
				if f.layer < prev.layer {
					continue
				}
			}
			merged[f.path] = f
		}
	}

	files := make([]composedFile, 0, len(merged))
	for _, f := range merged {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	files, err := renderTemplates(files, opts)
	if err != nil {
		return nil, err
	}

	files, err = applyLocalPolicy(files, opts.Local)
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("app", appName).
		Int("files", len(files)).
		Strs("layers", EnabledNames(layerList)).
		Msg("Composed app source")

	return &composedSource{appName: appName, files: files}, nil
}

// collectLayer reads every file under a layer root into memory, keyed
// by normalized relative path.
func collectLayer(fsys types.FS, layer Layer) ([]composedFile, error) {
	var files []composedFile

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := fsys.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileSystem, "listing layer dir %s", dir).WithPath(dir)
		}
		for _, entry := range entries {
			childRel := entry.Name()
			if rel != "" {
				childRel = rel + "/" + entry.Name()
			}
			childPath := dir + "/" + entry.Name()
			if entry.IsDir() {
				if err := walk(childPath, childRel); err != nil {
					return err
				}
				continue
			}
			norm, err := manifest.NormalizePath(childRel)
			if err != nil {
				return err
			}
			info, err := entry.Info()
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "stat %s", childPath).WithPath(childPath)
			}
			data, err := fsys.ReadFile(childPath)
			if err != nil {
				return errors.Wrapf(err, errors.ErrFileSystem, "reading %s", childPath).WithPath(childPath)
			}
			files = append(files, composedFile{
				path:  norm,
				data:  data,
				mode:  info.Mode().Perm(),
				layer: layer.Name,
				rank:  layer.Rank,
			})
		}
		return nil
	}

	if err := walk(layer.Root, ""); err != nil {
		return nil, err
	}
	return files, nil
}

func blocked(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchBlock(pattern, relPath) {
			return true
		}
	}
	return false
}

// renderTemplates expands template-suffixed files in place. A rendered
// target that collides with a literal file of the same name is an
// error rather than a silent overwrite.
func renderTemplates(files []composedFile, opts ComposeOptions) ([]composedFile, error) {
	if opts.TemplateSuffix == "" {
		return files, nil
	}

	literal := map[string]string{}
	for _, f := range files {
		if !template.IsTemplate(f.path, opts.TemplateSuffix) {
			literal[f.path] = f.layer
		}
	}

	out := make([]composedFile, 0, len(files))
	for _, f := range files {
		if !template.IsTemplate(f.path, opts.TemplateSuffix) {
			out = append(out, f)
			continue
		}
		target := template.TargetPath(f.path, opts.TemplateSuffix)
		if other, clash := literal[target]; clash {
			return nil, errors.Newf(errors.ErrLayerConflict,
				"template %s (layer %s) renders to %s which layer %s provides literally",
				f.path, f.layer, target, other).WithPath(f.path)
		}
		rendered, err := template.RenderAndValidate(f.path, target, f.data, opts.TemplateVars)
		if err != nil {
			return nil, err
		}
		f.path = target
		f.data = rendered
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// applyLocalPolicy rewrites the composed file list according to the
// local artifact policy.
func applyLocalPolicy(files []composedFile, policy LocalPolicy) ([]composedFile, error) {
	switch policy {
	case LocalPreserve:
		return files, nil

	case LocalBlock:
		out := files[:0]
		for _, f := range files {
			if !isLocalArtifact(f.path) {
				out = append(out, f)
			}
		}
		return out, nil

	case LocalPromote:
		return promoteLocal(files)

	default:
		return nil, errors.Newf(errors.ErrInvalidInput, "unknown local policy %q", policy)
	}
}

// promoteLocal folds local conf content into the default equivalents:
// local/x.conf merges over default/x.conf, metadata/local.meta over
// metadata/default.meta. Non-conf local files are dropped with the
// rest of the local tree.
func promoteLocal(files []composedFile) ([]composedFile, error) {
	byPath := map[string]int{}
	for i, f := range files {
		byPath[f.path] = i
	}

	promoted := map[string]composedFile{}
	for _, f := range files {
		if !isLocalArtifact(f.path) {
			continue
		}
		target := promoteTarget(f.path)
		if target == "" || !conf.IsConfPath(f.path) {
			continue
		}

		localConf, err := conf.Parse(f.path, f.data)
		if err != nil {
			return nil, err
		}
		base := conf.File{}
		mode := f.mode
		layer := f.layer
		if i, ok := byPath[target]; ok {
			base, err = conf.Parse(files[i].path, files[i].data)
			if err != nil {
				return nil, err
			}
			mode = files[i].mode
			layer = files[i].layer
		} else if prev, ok := promoted[target]; ok {
			base, err = conf.Parse(target, prev.data)
			if err != nil {
				return nil, err
			}
		}
		promoted[target] = composedFile{
			path:  target,
			data:  conf.Merge(base, localConf).Serialize(),
			mode:  mode,
			layer: layer,
		}
	}

	out := make([]composedFile, 0, len(files))
	for _, f := range files {
		if isLocalArtifact(f.path) {
			continue
		}
		if p, ok := promoted[f.path]; ok {
			out = append(out, p)
			delete(promoted, f.path)
			continue
		}
		out = append(out, f)
	}
	// Promotions with no default counterpart become new default files.
	remaining := make([]composedFile, 0, len(promoted))
	for _, f := range promoted {
		remaining = append(remaining, f)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].path < remaining[j].path })
	out = append(out, remaining...)

	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

// promoteTarget maps a local artifact path to its promoted
// destination, or "" when there is none.
func promoteTarget(relPath string) string {
	if strings.HasSuffix(relPath, "local.meta") {
		dir := path.Dir(relPath)
		return path.Join(dir, "default.meta")
	}
	if relPath == "local" {
		return ""
	}
	if idx := strings.Index(relPath, "local/"); idx == 0 || (idx > 0 && relPath[idx-1] == '/') {
		return fmt.Sprintf("%sdefault/%s", relPath[:idx], relPath[idx+len("local/"):])
	}
	return ""
}

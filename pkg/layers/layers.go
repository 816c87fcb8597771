// Package layers discovers and composes prioritized source layers
// into one logical app file set. Layers are subdirectories of the
// source root named with a numeric rank prefix ("10-upstream",
// "30-prod"); later ranks override earlier ones per path. A source
// root with no ranked subdirectories is treated as a single base
// layer.
package layers

import (
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/types"
)

// BaseLayerName is the implicit layer used when the source root has no
// ranked layer directories.
const BaseLayerName = "base"

var rankedName = regexp.MustCompile(`^(\d+)-(.+)$`)

// Layer is one prioritized source directory contributing files to a
// composed app.
type Layer struct {
	// Name is the directory base name, e.g. "30-prod".
	Name string

	// Root is the layer directory path.
	Root string

	// Rank orders layers; higher ranks win per path. The implicit
	// base layer has rank 0.
	Rank int

	// Enabled layers contribute files; disabled layers contribute
	// nothing and produce no conflicts.
	Enabled bool
}

// FilterRule is one include/exclude pattern from the run
// configuration. Exactly one of the two fields is set.
type FilterRule struct {
	Include string `koanf:"include"`
	Exclude string `koanf:"exclude"`
}

// Discover finds the layers under sourceRoot. Ranked subdirectories
// ("NN-name") become layers sorted by numeric rank, name as tiebreak;
// when none exist the root itself is the single base layer. All
// discovered layers start enabled; ApplyFilters gates them.
func Discover(fsys types.FS, sourceRoot string) ([]Layer, error) {
	entries, err := fsys.ReadDir(sourceRoot)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileSystem, "listing source %s", sourceRoot).WithPath(sourceRoot)
	}

	var found []Layer
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		match := rankedName.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		rank, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		found = append(found, Layer{
			Name:    entry.Name(),
			Root:    sourceRoot + "/" + entry.Name(),
			Rank:    rank,
			Enabled: true,
		})
	}

	if len(found) == 0 {
		return []Layer{{Name: BaseLayerName, Root: sourceRoot, Rank: 0, Enabled: true}}, nil
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Rank != found[j].Rank {
			return found[i].Rank < found[j].Rank
		}
		return found[i].Name < found[j].Name
	})
	return found, nil
}

// ApplyFilters gates layers with an ordered include/exclude rule list:
// rules are evaluated in order and the last matching rule wins. With
// no rules every layer stays enabled. When the first rule is an
// include, the default flips to exclude-all, so a pure include list
// selects exactly the named layers.
func ApplyFilters(layerList []Layer, rules []FilterRule) []Layer {
	logger := logging.GetLogger("layers")

	defaultEnabled := true
	if len(rules) > 0 && rules[0].Include != "" {
		defaultEnabled = false
	}

	out := make([]Layer, len(layerList))
	for i, layer := range layerList {
		enabled := defaultEnabled
		for _, rule := range rules {
			if rule.Include != "" && matchLayer(rule.Include, layer.Name) {
				enabled = true
			}
			if rule.Exclude != "" && matchLayer(rule.Exclude, layer.Name) {
				enabled = false
			}
		}
		out[i] = layer
		out[i].Enabled = enabled
		if !enabled {
			logger.Debug().Str("layer", layer.Name).Msg("Layer excluded by filter")
		}
	}
	return out
}

// EnabledNames returns the names of enabled layers in priority order.
func EnabledNames(layerList []Layer) []string {
	var names []string
	for _, layer := range layerList {
		if layer.Enabled {
			names = append(names, layer.Name)
		}
	}
	return names
}

// matchLayer matches a glob pattern against a layer name. Patterns
// may omit the rank prefix: "prod" matches "30-prod".
func matchLayer(pattern, name string) bool {
	if ok, _ := path.Match(pattern, name); ok {
		return true
	}
	if match := rankedName.FindStringSubmatch(name); match != nil {
		if ok, _ := path.Match(pattern, match[2]); ok {
			return true
		}
	}
	return false
}

// matchBlock matches a blocklist pattern against a relative path: the
// pattern is tried against the base name and the whole path.
func matchBlock(pattern, relPath string) bool {
	if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
		return true
	}
	ok, _ := path.Match(pattern, relPath)
	return ok
}

// isLocalArtifact reports whether a relative path is a local override
// artifact (local/ directory content or a local.meta file).
func isLocalArtifact(relPath string) bool {
	return relPath == "local" ||
		strings.HasPrefix(relPath, "local/") ||
		strings.Contains(relPath, "/local/") ||
		strings.HasSuffix(relPath, "local.meta")
}

// Package config loads run configuration: embedded defaults, then an
// optional .confpack.toml, then CONFPACK_* environment variables.
// Later sources win per key.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/layers"
)

// ConfigFileName is the project-local config file, looked up in the
// working directory when no explicit path is given.
const ConfigFileName = ".confpack.toml"

// EnvPrefix namespaces environment overrides: CONFPACK_PACKAGE_FORMAT
// sets package.format.
const EnvPrefix = "CONFPACK_"

// Config is the fully resolved run configuration.
type Config struct {
	Package  PackageConfig  `koanf:"package"`
	Sideload SideloadConfig `koanf:"sideload"`
	Layers   LayersConfig   `koanf:"layers"`
}

// PackageConfig drives archive building.
type PackageConfig struct {
	// Format is the archive format: tgz, tzst, or tar.
	Format string `koanf:"format"`

	// TemplateSuffix marks template files; empty disables rendering.
	TemplateSuffix string `koanf:"template_suffix"`

	// Strict makes same-rank layer conflicts fatal.
	Strict bool `koanf:"strict"`

	// LocalPolicy is preserve, block, or promote.
	LocalPolicy string `koanf:"local_policy"`

	// OutputDir receives built archives.
	OutputDir string `koanf:"output_dir"`

	// NameTemplate names built archives; supports {{app_name}},
	// {{version}}, and {{layers_hash}} placeholders.
	NameTemplate string `koanf:"name_template"`

	// Blocklist globs drop matching paths from every layer.
	Blocklist []string `koanf:"blocklist"`
}

// SideloadConfig drives deployment.
type SideloadConfig struct {
	// Policy is fail_fast or best_effort.
	Policy string `koanf:"policy"`

	// Preserve patterns protect deployed-only paths from removal.
	Preserve []string `koanf:"preserve"`

	// CaseInsensitive rejects manifests whose paths collide when
	// lowercased, for targets on case-insensitive filesystems.
	CaseInsensitive bool `koanf:"case_insensitive"`
}

// LayersConfig selects which layers participate.
type LayersConfig struct {
	Filters []layers.FilterRule `koanf:"filters"`
}

// Load resolves the configuration. configPath may be empty, in which
// case .confpack.toml is looked up in the working directory; a
// missing discovered file is fine, a missing explicit one is an
// error.
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load plus a final layer of programmatic
// overrides, keyed by dotted path ("package.strict"). CLI flags land
// here so they beat both file and environment.
func LoadWithOverrides(configPath string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "loading built-in defaults")
	}

	explicit := configPath != ""
	if !explicit {
		configPath = filepath.Join(".", ConfigFileName)
	}
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, errors.ErrConfigParse, "parsing config file %s", configPath).WithPath(configPath)
		}
	} else if explicit {
		return nil, errors.Wrapf(err, errors.ErrConfigLoad, "config file %s", configPath).WithPath(configPath)
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigLoad, "loading environment overrides")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "applying overrides")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "unmarshaling configuration")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Package.Format {
	case "tgz", "tzst", "tar":
	default:
		return errors.Newf(errors.ErrConfigParse, "package.format must be tgz, tzst, or tar, got %q", c.Package.Format)
	}
	switch c.Package.LocalPolicy {
	case "preserve", "block", "promote":
	default:
		return errors.Newf(errors.ErrConfigParse, "package.local_policy must be preserve, block, or promote, got %q", c.Package.LocalPolicy)
	}
	switch c.Sideload.Policy {
	case "fail_fast", "best_effort":
	default:
		return errors.Newf(errors.ErrConfigParse, "sideload.policy must be fail_fast or best_effort, got %q", c.Sideload.Policy)
	}
	for _, rule := range c.Layers.Filters {
		if (rule.Include == "") == (rule.Exclude == "") {
			return errors.New(errors.ErrConfigParse, "each layers.filters entry needs exactly one of include or exclude")
		}
	}
	return nil
}

package layers_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/confpack/pkg/conf"
	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/layers"
	"github.com/arthur-debert/confpack/pkg/template"
	"github.com/arthur-debert/confpack/pkg/testutil"
	"github.com/arthur-debert/confpack/pkg/types"
)

func readSource(t *testing.T, src types.Source) map[string]string {
	t.Helper()
	files, err := src.Files()
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range files {
		r, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		out[f.Path] = string(data)
	}
	return out
}

func sourceLayers(t *testing.T, src types.Source) map[string]string {
	t.Helper()
	files, err := src.Files()
	require.NoError(t, err)
	out := map[string]string{}
	for _, f := range files {
		out[f.Path] = f.Layer
	}
	return out
}

func TestDiscover_RankedLayers(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"10-upstream/default/app.conf": "[ui]\n",
		"30-prod/default/app.conf":     "[ui]\n",
		"20-corp/default/props.conf":   "[x]\n",
		"README.md":                    "not a layer",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "10-upstream", found[0].Name)
	assert.Equal(t, "20-corp", found[1].Name)
	assert.Equal(t, "30-prod", found[2].Name)
	assert.Equal(t, 30, found[2].Rank)
	assert.True(t, found[0].Enabled)
}

func TestDiscover_NumericRankOrder(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"9-hotfix/default/app.conf": "[ui]\nlabel = Hotfix\n",
		"100-prod/default/app.conf": "[ui]\nlabel = Prod\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	require.Len(t, found, 2)
	// Ranks order numerically, not lexically: 9 before 100.
	assert.Equal(t, "9-hotfix", found[0].Name)
	assert.Equal(t, "100-prod", found[1].Name)

	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[ui]\nlabel = Prod\n", readSource(t, src)["default/app.conf"])
}

func TestDiscover_ImplicitBaseLayer(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/app.conf": "[ui]\nlabel = Flat App\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, layers.BaseLayerName, found[0].Name)
	assert.Equal(t, "/src", found[0].Root)
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := layers.Discover(testutil.NewMemFS(), "/nope")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrFileSystem))
}

func TestApplyFilters(t *testing.T) {
	all := []layers.Layer{
		{Name: "10-upstream", Rank: 10, Enabled: true},
		{Name: "20-corp", Rank: 20, Enabled: true},
		{Name: "30-prod", Rank: 30, Enabled: true},
	}

	tests := []struct {
		name  string
		rules []layers.FilterRule
		want  []string
	}{
		{
			name: "no rules keeps everything",
			want: []string{"10-upstream", "20-corp", "30-prod"},
		},
		{
			name:  "leading include selects only matches",
			rules: []layers.FilterRule{{Include: "upstream"}},
			want:  []string{"10-upstream"},
		},
		{
			name:  "leading exclude keeps the rest",
			rules: []layers.FilterRule{{Exclude: "prod"}},
			want:  []string{"10-upstream", "20-corp"},
		},
		{
			name: "last matching rule wins",
			rules: []layers.FilterRule{
				{Exclude: "*"},
				{Include: "30-prod"},
			},
			want: []string{"30-prod"},
		},
		{
			name: "include then exclude narrows",
			rules: []layers.FilterRule{
				{Include: "*"},
				{Exclude: "corp"},
			},
			want: []string{"10-upstream", "30-prod"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := layers.ApplyFilters(all, tt.rules)
			assert.Equal(t, tt.want, layers.EnabledNames(filtered))
		})
	}
}

func TestCompose_LastLayerWins(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"10-upstream/default/app.conf":    "[ui]\nlabel = Upstream\n",
		"10-upstream/default/inputs.conf": "[monitor:///var/log]\n",
		"30-prod/default/app.conf":        "[ui]\nlabel = Prod\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "myapp", src.AppName())
	contents := readSource(t, src)
	assert.Equal(t, "[ui]\nlabel = Prod\n", contents["default/app.conf"])
	assert.Equal(t, "[monitor:///var/log]\n", contents["default/inputs.conf"])

	origins := sourceLayers(t, src)
	assert.Equal(t, "30-prod", origins["default/app.conf"])
	assert.Equal(t, "10-upstream", origins["default/inputs.conf"])
}

func TestCompose_DisabledLayerContributesNothing(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"10-upstream/default/app.conf": "[ui]\nlabel = Upstream\n",
		"30-prod/default/app.conf":     "[ui]\nlabel = Prod\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	filtered := layers.ApplyFilters(found, []layers.FilterRule{{Exclude: "prod"}})

	src, err := layers.Compose(fsys, "myapp", filtered, layers.ComposeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[ui]\nlabel = Upstream\n", readSource(t, src)["default/app.conf"])
}

func TestCompose_SameRankConflictStrict(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"10-alpha/default/app.conf": "[ui]\nlabel = A\n",
		"10-beta/default/app.conf":  "[ui]\nlabel = B\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)

	_, err = layers.Compose(fsys, "myapp", found, layers.ComposeOptions{Strict: true})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrLayerConflict))
	assert.Contains(t, err.Error(), "default/app.conf")

	// Without strict mode the lexically later layer wins.
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "[ui]\nlabel = B\n", readSource(t, src)["default/app.conf"])
}

func TestCompose_Blocklist(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/app.conf":    "[ui]\n",
		"default/.DS_Store":   "junk",
		"bin/script.pyc":      "junk",
		"local/settings.conf": "[x]\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{
		Blocklist: []string{".DS_Store", "*.pyc"},
	})
	require.NoError(t, err)

	contents := readSource(t, src)
	assert.Contains(t, contents, "default/app.conf")
	assert.Contains(t, contents, "local/settings.conf")
	assert.NotContains(t, contents, "default/.DS_Store")
	assert.NotContains(t, contents, "bin/script.pyc")
}

func TestCompose_LocalBlock(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/app.conf":          "[ui]\n",
		"local/app.conf":            "[ui]\nlabel = Local\n",
		"metadata/local.meta":       "[]\naccess = read : [ * ]\n",
		"metadata/default.meta":     "[]\n",
		"lookups/local_domains.csv": "domain\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{Local: layers.LocalBlock})
	require.NoError(t, err)

	contents := readSource(t, src)
	assert.Contains(t, contents, "default/app.conf")
	assert.Contains(t, contents, "metadata/default.meta")
	// Names merely containing "local" are untouched.
	assert.Contains(t, contents, "lookups/local_domains.csv")
	assert.NotContains(t, contents, "local/app.conf")
	assert.NotContains(t, contents, "metadata/local.meta")
}

func TestCompose_LocalPromote(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/app.conf": "[ui]\nlabel = Base\nis_visible = true\n",
		"local/app.conf":   "[ui]\nlabel = Tuned\n",
		"local/new.conf":   "[stanza]\nkey = value\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{Local: layers.LocalPromote})
	require.NoError(t, err)

	contents := readSource(t, src)
	assert.NotContains(t, contents, "local/app.conf")
	assert.NotContains(t, contents, "local/new.conf")

	// Local keys override, untouched base keys survive.
	assert.Contains(t, contents["default/app.conf"], "label = Tuned")
	assert.Contains(t, contents["default/app.conf"], "is_visible = true")

	// A local conf with no default counterpart is promoted whole.
	assert.Contains(t, contents["default/new.conf"], "key = value")
}

func TestCompose_LocalPromoteKeepsContinuationsParseable(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/props.conf": "[props]\nTRANSFORMS-x = drop\n",
		"local/props.conf":   "[props]\nEXTRACT-fields = (?<first>\\w+) \\\nmore\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{Local: layers.LocalPromote})
	require.NoError(t, err)

	promoted := readSource(t, src)["default/props.conf"]
	parsed, err := conf.Parse("default/props.conf", []byte(promoted))
	require.NoError(t, err)
	assert.Equal(t, "drop", parsed.Get("props", "TRANSFORMS-x"))
	assert.Contains(t, parsed.Get("props", "EXTRACT-fields"), "\nmore")
}

func TestCompose_TemplateRendering(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/indexes.conf.tmpl": "[main]\nfrozenTimePeriodInSecs = {{.retention_secs}}\n",
		"default/app.conf":          "[ui]\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	src, err := layers.Compose(fsys, "myapp", found, layers.ComposeOptions{
		TemplateSuffix: template.DefaultSuffix,
		TemplateVars:   template.Context{"retention_secs": 604800},
	})
	require.NoError(t, err)

	contents := readSource(t, src)
	assert.NotContains(t, contents, "default/indexes.conf.tmpl")
	assert.Equal(t, "[main]\nfrozenTimePeriodInSecs = 604800\n", contents["default/indexes.conf"])
}

func TestCompose_TemplateFailureAborts(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"default/indexes.conf.tmpl": "[main]\nx = {{.missing}}\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	_, err = layers.Compose(fsys, "myapp", found, layers.ComposeOptions{
		TemplateSuffix: template.DefaultSuffix,
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrTemplateRender))
}

func TestCompose_TemplateLiteralClash(t *testing.T) {
	fsys := testutil.NewMemFS()
	testutil.WriteTree(t, fsys, "/src", map[string]string{
		"10-a/default/app.conf":      "[ui]\nlabel = Literal\n",
		"20-b/default/app.conf.tmpl": "[ui]\nlabel = {{.label}}\n",
	})

	found, err := layers.Discover(fsys, "/src")
	require.NoError(t, err)
	_, err = layers.Compose(fsys, "myapp", found, layers.ComposeOptions{
		TemplateSuffix: template.DefaultSuffix,
		TemplateVars:   template.Context{"label": "Rendered"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrLayerConflict))
}

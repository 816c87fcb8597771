package conf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/confpack/pkg/conf"
	"github.com/arthur-debert/confpack/pkg/errors"
)

func TestParse_Basic(t *testing.T) {
	content := `
# app.conf
[ui]
label = My App
is_visible = 1

[launcher]
version = 1.4.3
author = ops-team
`
	parsed, err := conf.Parse("app.conf", []byte(content))
	require.NoError(t, err)

	assert.Equal(t, "My App", parsed.Get("ui", "label"))
	assert.Equal(t, "1.4.3", parsed.Get("launcher", "version"))
	assert.Equal(t, "", parsed.Get("launcher", "missing"))
	assert.Equal(t, "", parsed.Get("missing", "version"))
}

func TestParse_DefaultStanza(t *testing.T) {
	parsed, err := conf.Parse("server.conf", []byte("top_key = 42\n[general]\nname = srv\n"))
	require.NoError(t, err)
	assert.Equal(t, "42", parsed.Get(conf.DefaultStanza, "top_key"))
	assert.Equal(t, "srv", parsed.Get("general", "name"))
}

func TestParse_Continuation(t *testing.T) {
	content := "[props]\nEXTRACT-fields = (?<first>\\w+) \\\nmore\n"
	parsed, err := conf.Parse("props.conf", []byte(content))
	require.NoError(t, err)
	assert.Contains(t, parsed.Get("props", "EXTRACT-fields"), "more")
}

func TestSerialize_ContinuationRoundTrip(t *testing.T) {
	content := "[props]\nEXTRACT-fields = (?<first>\\w+) \\\nmore\n"
	parsed, err := conf.Parse("props.conf", []byte(content))
	require.NoError(t, err)
	want := parsed.Get("props", "EXTRACT-fields")
	require.Contains(t, want, "\n")

	merged := conf.Merge(parsed)
	reparsed, err := conf.Parse("merged/props.conf", merged.Serialize())
	require.NoError(t, err)
	assert.Equal(t, want, reparsed.Get("props", "EXTRACT-fields"))
	assert.Equal(t, merged, reparsed)
}

func TestParse_Comments(t *testing.T) {
	content := "; semicolon comment\n# hash comment\n[x]\nk = v\n"
	parsed, err := conf.Parse("x.conf", []byte(content))
	require.NoError(t, err)
	assert.Len(t, parsed, 1)
	assert.Equal(t, "v", parsed.Get("x", "k"))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unterminated_stanza", "[broken\nk = v\n"},
		{"bare_word", "[ok]\nnot-a-pair\n"},
		{"empty_key", "[ok]\n = orphan-value\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conf.Parse("bad.conf", []byte(tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrConfParse))
			assert.Contains(t, err.Error(), "bad.conf")

			details := errors.GetErrorDetails(err)
			require.NotNil(t, details)
			assert.NotNil(t, details["line"])
		})
	}
}

func TestParse_EmptyStanzaRecorded(t *testing.T) {
	parsed, err := conf.Parse("empty.conf", []byte("[install]\n"))
	require.NoError(t, err)
	_, ok := parsed["install"]
	assert.True(t, ok)
}

func TestMerge(t *testing.T) {
	base, err := conf.Parse("default/app.conf", []byte("[ui]\nlabel = Base\n[launcher]\nversion = 1.0.0\n"))
	require.NoError(t, err)
	local, err := conf.Parse("local/app.conf", []byte("[ui]\nlabel = Local Override\n"))
	require.NoError(t, err)

	merged := conf.Merge(base, local)
	assert.Equal(t, "Local Override", merged.Get("ui", "label"))
	assert.Equal(t, "1.0.0", merged.Get("launcher", "version"))
}

func TestFactsFromAppConf(t *testing.T) {
	parsed, err := conf.Parse("app.conf", []byte(`
[ui]
label = Fire Brigade

[launcher]
version = 2.1.0
author = lowell

[package]
id = fire_brigade
`))
	require.NoError(t, err)

	facts := conf.FactsFromAppConf(parsed)
	assert.Equal(t, "Fire Brigade", facts.Label)
	assert.Equal(t, "2.1.0", facts.Version)
	assert.Equal(t, "lowell", facts.Author)
	assert.Equal(t, "fire_brigade", facts.PackageID)
}

func TestIsConfPath(t *testing.T) {
	assert.True(t, conf.IsConfPath("default/props.conf"))
	assert.True(t, conf.IsConfPath("metadata/default.meta"))
	assert.False(t, conf.IsConfPath("bin/script.sh"))
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arthur-debert/confpack/pkg/errors"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"retention_secs=604800", "env=prod"})
	require.NoError(t, err)
	assert.Equal(t, "604800", vars["retention_secs"])
	assert.Equal(t, "prod", vars["env"])
}

func TestParseVars_Empty(t *testing.T) {
	vars, err := parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, vars)
}

func TestParseVars_Malformed(t *testing.T) {
	for _, bad := range []string{"novalue", "=value"} {
		_, err := parseVars([]string{bad})
		require.Error(t, err, bad)
		assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
	}
}

func TestAppNameFromSource(t *testing.T) {
	assert.Equal(t, "myapp", appNameFromSource("/srv/apps/myapp"))
	assert.Equal(t, "myapp", appNameFromSource("/srv/apps/myapp/"))
	assert.Equal(t, "myapp", appNameFromSource("myapp"))
}

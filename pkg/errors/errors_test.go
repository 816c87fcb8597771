package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrInvalidPath, "path escapes app root")
	assert.Equal(t, ErrInvalidPath, err.Code)
	assert.Equal(t, "[INVALID_PATH] path escapes app root", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(ErrLayerConflict, "layer %q conflicts at rank %d", "30-prod", 30)
	assert.Equal(t, ErrLayerConflict, err.Code)
	assert.Contains(t, err.Error(), `layer "30-prod" conflicts at rank 30`)
}

func TestWrap(t *testing.T) {
	underlying := fmt.Errorf("permission denied")
	err := Wrap(underlying, ErrFileSystem, "writing app.conf")
	require.NotNil(t, err)
	assert.Equal(t, ErrFileSystem, err.Code)
	assert.ErrorIs(t, err, err)
	assert.Equal(t, underlying, err.Unwrap())
	assert.Contains(t, err.Error(), "permission denied")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrFileSystem, "no-op"))
	assert.Nil(t, Wrapf(nil, ErrFileSystem, "no-op %d", 1))
}

func TestIsErrorCode(t *testing.T) {
	err := New(ErrCorruptState, "state file is truncated")
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, IsErrorCode(wrapped, ErrCorruptState))
	assert.False(t, IsErrorCode(wrapped, ErrDecryption))
	assert.False(t, IsErrorCode(fmt.Errorf("plain"), ErrCorruptState))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrTemplateRender, GetErrorCode(New(ErrTemplateRender, "boom")))
	assert.Equal(t, ErrUnknown, GetErrorCode(fmt.Errorf("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrFileSystem, "remove failed").
		WithPath("myapp/default/props.conf").
		WithDetail("op", "remove")

	details := GetErrorDetails(err)
	require.NotNil(t, details)
	assert.Equal(t, "myapp/default/props.conf", details["path"])
	assert.Equal(t, "remove", details["op"])
}

// Package template expands template-suffixed source files against a
// caller-supplied variable context before packaging. Rendered .conf
// and .meta output is validated against the conf grammar so a broken
// template can never reach an output archive.
package template

import (
	"bytes"
	"strings"
	texttemplate "text/template"

	"github.com/arthur-debert/confpack/pkg/conf"
	"github.com/arthur-debert/confpack/pkg/errors"
)

// DefaultSuffix marks template files. The suffix is stripped from the
// rendered file's final name.
const DefaultSuffix = ".tmpl"

// Context is the opaque variable mapping templates are rendered
// against. The engine never interprets values; undefined variable
// references fail the render.
type Context map[string]interface{}

// IsTemplate reports whether path carries the template suffix.
func IsTemplate(path, suffix string) bool {
	return suffix != "" && strings.HasSuffix(path, suffix) && len(path) > len(suffix)
}

// TargetPath strips the template suffix from a source path.
func TargetPath(path, suffix string) string {
	return strings.TrimSuffix(path, suffix)
}

// Render expands content against vars. Undefined variables are an
// error naming the variable, never a silent empty substitution.
// Rendering touches no filesystem state.
func Render(name string, content []byte, vars Context) ([]byte, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTemplateRender, "parsing template %s", name).WithPath(name)
	}

	if vars == nil {
		vars = Context{}
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, map[string]interface{}(vars)); err != nil {
		return nil, errors.Wrapf(err, errors.ErrTemplateRender, "rendering template %s", name).WithPath(name)
	}
	return rendered.Bytes(), nil
}

// RenderAndValidate renders a template and, when the target path is a
// conf-grammar file, parses the result. A rendered file that does not
// parse aborts the whole composition; the error names the file and
// line.
func RenderAndValidate(sourcePath, targetPath string, content []byte, vars Context) ([]byte, error) {
	rendered, err := Render(sourcePath, content, vars)
	if err != nil {
		return nil, err
	}

	if conf.IsConfPath(targetPath) {
		if _, err := conf.Parse(sourcePath, rendered); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTemplateRender,
				"template %s rendered invalid conf content", sourcePath).WithPath(sourcePath)
		}
	}
	return rendered, nil
}

package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/arthur-debert/confpack/pkg/errors"
)

// DefaultStanza is the implicit stanza that holds keys appearing
// before the first [stanza] header.
const DefaultStanza = "default"

// File is a parsed .conf file: stanza name to key/value map. Key order
// within a stanza is not significant for change detection, so plain
// maps are used.
type File map[string]map[string]string

// Parse reads an INI-like .conf document: [stanza] headers, key = value
// pairs, '#' and ';' comments, and trailing-backslash line
// continuations. name is used for error reporting only.
func Parse(name string, data []byte) (File, error) {
	result := File{}
	current := DefaultStanza

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// Join continuation lines before interpreting anything else.
		for strings.HasSuffix(line, "\\") && scanner.Scan() {
			lineNo++
			line = strings.TrimSuffix(line, "\\") + "\n" + scanner.Text()
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, errors.Newf(errors.ErrConfParse,
					"%s:%d: unterminated stanza header %q", name, lineNo, trimmed).
					WithDetail("line", lineNo).WithPath(name)
			}
			current = trimmed[1 : len(trimmed)-1]
			if _, ok := result[current]; !ok {
				result[current] = map[string]string{}
			}
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.Newf(errors.ErrConfParse,
				"%s:%d: expected 'key = value', got %q", name, lineNo, trimmed).
				WithDetail("line", lineNo).WithPath(name)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, errors.Newf(errors.ErrConfParse,
				"%s:%d: empty key", name, lineNo).
				WithDetail("line", lineNo).WithPath(name)
		}
		if _, ok := result[current]; !ok {
			result[current] = map[string]string{}
		}
		result[current][key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfParse, "%s: reading conf content", name)
	}

	return result, nil
}

// Merge overlays the given conf files left to right: later files win
// per key. Used for default/local app.conf resolution.
func Merge(files ...File) File {
	merged := File{}
	for _, f := range files {
		for stanza, keys := range f {
			if _, ok := merged[stanza]; !ok {
				merged[stanza] = map[string]string{}
			}
			for k, v := range keys {
				merged[stanza][k] = v
			}
		}
	}
	return merged
}

// Serialize renders the conf file deterministically: stanzas and keys
// in sorted order. Comments and original ordering are not preserved;
// this is only used when the engine itself produces conf content
// (local-promote merging), never for pass-through files.
func (f File) Serialize() []byte {
	// The implicit default stanza has no header, so it must come
	// first; everything else is sorted.
	stanzas := make([]string, 0, len(f))
	for stanza := range f {
		if stanza != DefaultStanza {
			stanzas = append(stanzas, stanza)
		}
	}
	sort.Strings(stanzas)
	if _, ok := f[DefaultStanza]; ok {
		stanzas = append([]string{DefaultStanza}, stanzas...)
	}

	var out bytes.Buffer
	for _, stanza := range stanzas {
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		if stanza != DefaultStanza {
			fmt.Fprintf(&out, "[%s]\n", stanza)
		}
		keys := make([]string, 0, len(f[stanza]))
		for k := range f[stanza] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&out, "%s = %s\n", k, escapeValue(f[stanza][k]))
		}
	}
	return out.Bytes()
}

// escapeValue re-emits embedded newlines as backslash continuations so
// serialized output always parses back to the same value.
func escapeValue(v string) string {
	return strings.ReplaceAll(v, "\n", "\\\n")
}

// Get returns the value for stanza/key, or "" when absent.
func (f File) Get(stanza, key string) string {
	if keys, ok := f[stanza]; ok {
		return keys[key]
	}
	return ""
}

// IsConfPath reports whether a relative path should be validated with
// the conf grammar after template rendering.
func IsConfPath(path string) bool {
	return strings.HasSuffix(path, ".conf") || strings.HasSuffix(path, ".meta")
}

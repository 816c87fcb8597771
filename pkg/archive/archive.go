// Package archive reads and writes app bundles: a tar stream wrapped
// in gzip or zstd, holding the app tree under a single top-level
// directory plus an embedded manifest. File bodies may be encrypted
// with a Crypter; the manifest always stays plaintext so change
// detection works without the passphrase.
package archive

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/logging"
	"github.com/arthur-debert/confpack/pkg/manifest"
	"github.com/arthur-debert/confpack/pkg/types"
)

// ManifestEntryName is the tar entry holding the embedded manifest. It
// sits at the archive root, outside the app directory.
const ManifestEntryName = ".confpack_manifest.json"

// Decompression guards against hostile archives.
const (
	maxEntries      = 16384
	maxEntryBytes   = 256 << 20
	maxArchiveBytes = 1 << 30
)

// Format selects the compression wrapping the tar stream.
type Format string

const (
	FormatTarGz   Format = "tgz"
	FormatTarZstd Format = "tzst"
	FormatTar     Format = "tar"
)

// DetectFormat maps an archive file name to its format. The Splunk
// .spl extension is a gzipped tar.
func DetectFormat(name string) (Format, error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"), strings.HasSuffix(name, ".spl"):
		return FormatTarGz, nil
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZstd, nil
	case strings.HasSuffix(name, ".tar"):
		return FormatTar, nil
	default:
		return "", errors.Newf(errors.ErrArchiveFormat, "unrecognized archive extension on %s", name).WithPath(name)
	}
}

// WriteOptions tunes archive creation.
type WriteOptions struct {
	// Format overrides extension detection when set.
	Format Format

	// Crypter encrypts file bodies. Nil writes plaintext.
	Crypter types.Crypter
}

// Write serializes src and its manifest into an archive at
// archivePath. The whole stream is built in memory and written with a
// single WriteFile, so a failed build leaves nothing behind.
func Write(fsys types.FS, archivePath string, man *manifest.Manifest, src types.Source, opts WriteOptions) error {
	logger := logging.GetLogger("archive")

	format := opts.Format
	if format == "" {
		detected, err := DetectFormat(archivePath)
		if err != nil {
			return err
		}
		format = detected
	}

	var buf bytes.Buffer
	compressed, err := newCompressor(&buf, format)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(compressed)

	manifestJSON, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "encoding manifest")
	}
	if err := writeEntry(tw, ManifestEntryName, manifestJSON, 0644); err != nil {
		return err
	}

	files, err := src.Files()
	if err != nil {
		return err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	for _, f := range files {
		reader, err := f.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return errors.Wrapf(err, errors.ErrFileSystem, "reading %s", f.Path).WithPath(f.Path)
		}
		if opts.Crypter != nil {
			data, err = opts.Crypter.Encrypt(data)
			if err != nil {
				return err
			}
		}
		if err := writeEntry(tw, src.AppName()+"/"+f.Path, data, f.Mode); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrArchiveFormat, "finalizing tar stream")
	}
	if err := compressed.Close(); err != nil {
		return errors.Wrap(err, errors.ErrArchiveFormat, "finalizing compression")
	}

	if err := fsys.WriteFile(archivePath, buf.Bytes(), 0644); err != nil {
		return errors.Wrapf(err, errors.ErrFileSystem, "writing archive %s", archivePath).WithPath(archivePath)
	}

	logger.Debug().
		Str("archive", archivePath).
		Str("app", src.AppName()).
		Int("files", len(files)).
		Bool("encrypted", opts.Crypter != nil).
		Msg("Wrote app archive")
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, mode fs.FileMode) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    int64(mode.Perm()),
		Size:    int64(len(data)),
		ModTime: time.Unix(0, 0).UTC(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, errors.ErrArchiveFormat, "writing tar header for %s", name)
	}
	if _, err := tw.Write(data); err != nil {
		return errors.Wrapf(err, errors.ErrArchiveFormat, "writing tar entry %s", name)
	}
	return nil
}

func newCompressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatTarGz:
		return gzip.NewWriter(w), nil
	case FormatTarZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrInternal, "initializing zstd writer")
		}
		return zw, nil
	case FormatTar:
		return nopWriteCloser{w}, nil
	default:
		return nil, errors.Newf(errors.ErrArchiveFormat, "unsupported archive format %q", format)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Archive is a fully read app bundle. It implements types.Source over
// the decrypted file bodies; Manifest is nil when the bundle carries
// no embedded manifest.
type Archive struct {
	// Manifest is the embedded manifest, when present.
	Manifest *manifest.Manifest

	appName string
	paths   []string
	bodies  map[string][]byte
	modes   map[string]fs.FileMode
}

// Open reads, decompresses, and validates the archive at archivePath.
// Every entry must live under a single top-level app directory; entry
// paths are normalized and rejected on traversal. crypter decrypts
// file bodies when set.
func Open(fsys types.FS, archivePath string, crypter types.Crypter) (*Archive, error) {
	raw, err := fsys.ReadFile(archivePath)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileSystem, "reading archive %s", archivePath).WithPath(archivePath)
	}

	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, err
	}
	stream, err := newDecompressor(bytes.NewReader(raw), format)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrArchiveFormat, "decompressing %s", archivePath).WithPath(archivePath)
	}
	defer stream.Close()

	arc := &Archive{
		bodies: map[string][]byte{},
		modes:  map[string]fs.FileMode{},
	}

	tr := tar.NewReader(stream)
	entries := 0
	total := int64(0)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrArchiveFormat, "reading tar stream in %s", archivePath).WithPath(archivePath)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			return nil, errors.Newf(errors.ErrArchiveFormat,
				"%s: unsupported entry type %d for %s", archivePath, hdr.Typeflag, hdr.Name).WithPath(archivePath)
		}

		entries++
		if entries > maxEntries {
			return nil, errors.Newf(errors.ErrArchiveFormat, "%s: too many entries", archivePath).WithPath(archivePath)
		}
		if hdr.Size > maxEntryBytes {
			return nil, errors.Newf(errors.ErrArchiveFormat, "%s: entry %s exceeds size limit", archivePath, hdr.Name).WithPath(archivePath)
		}
		total += hdr.Size
		if total > maxArchiveBytes {
			return nil, errors.Newf(errors.ErrArchiveFormat, "%s: archive exceeds size limit", archivePath).WithPath(archivePath)
		}

		data, err := io.ReadAll(io.LimitReader(tr, hdr.Size))
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrArchiveFormat, "reading entry %s", hdr.Name).WithPath(archivePath)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == ManifestEntryName {
			var man manifest.Manifest
			if err := json.Unmarshal(data, &man); err != nil {
				return nil, errors.Wrapf(err, errors.ErrArchiveFormat, "%s: malformed embedded manifest", archivePath).WithPath(archivePath)
			}
			arc.Manifest = &man
			continue
		}

		app, rel, found := strings.Cut(name, "/")
		if !found || rel == "" {
			return nil, errors.Newf(errors.ErrArchiveFormat,
				"%s: entry %s is not under an app directory", archivePath, hdr.Name).WithPath(archivePath)
		}
		if arc.appName == "" {
			arc.appName = app
		} else if arc.appName != app {
			return nil, errors.Newf(errors.ErrArchiveFormat,
				"%s: entries under multiple app directories (%s, %s)", archivePath, arc.appName, app).WithPath(archivePath)
		}

		norm, err := manifest.NormalizePath(rel)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrArchiveFormat, "%s: unsafe entry path %s", archivePath, hdr.Name).WithPath(archivePath)
		}

		if crypter != nil {
			data, err = crypter.Decrypt(data)
			if err != nil {
				return nil, err
			}
		}

		if _, dup := arc.bodies[norm]; !dup {
			arc.paths = append(arc.paths, norm)
		}
		arc.bodies[norm] = data
		arc.modes[norm] = fs.FileMode(hdr.Mode).Perm()
	}

	if arc.appName == "" {
		return nil, errors.Newf(errors.ErrArchiveFormat, "%s: archive holds no app files", archivePath).WithPath(archivePath)
	}
	if arc.Manifest != nil && arc.Manifest.AppName != arc.appName {
		return nil, errors.Newf(errors.ErrArchiveFormat,
			"%s: embedded manifest names app %s but entries are under %s",
			archivePath, arc.Manifest.AppName, arc.appName).WithPath(archivePath)
	}

	sort.Strings(arc.paths)
	return arc, nil
}

func newDecompressor(r io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gz, nil
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(zr.IOReadCloser()), nil
	case FormatTar:
		return io.NopCloser(r), nil
	default:
		return nil, errors.Newf(errors.ErrArchiveFormat, "unsupported archive format %q", format)
	}
}

func (a *Archive) AppName() string { return a.appName }

func (a *Archive) Files() ([]types.SourceFile, error) {
	out := make([]types.SourceFile, 0, len(a.paths))
	for _, p := range a.paths {
		data := a.bodies[p]
		out = append(out, types.SourceFile{
			Path: p,
			Mode: a.modes[p],
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
		})
	}
	return out, nil
}

// Content returns the decrypted body for a path.
func (a *Archive) Content(path string) ([]byte, bool) {
	data, ok := a.bodies[path]
	return data, ok
}

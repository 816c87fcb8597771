package types

import (
	"io"
	"io/fs"
)

// FS is the filesystem interface required for confpack operations.
// The OS implementation lives in pkg/filesystem; an afero-backed
// implementation is available for tests.
type FS interface {
	// File operations
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm fs.FileMode) error
	Chmod(name string, mode fs.FileMode) error

	// Directory operations
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(name string) ([]fs.DirEntry, error)

	// Other operations
	Remove(name string) error
	RemoveAll(path string) error

	// Rename must be atomic on the same filesystem; the applier relies
	// on this for its temp-then-rename swap.
	Rename(oldpath, newpath string) error
}

// SourceFile is one file yielded by a Source: a normalized relative
// path, the POSIX permission bits, and a way to open the content.
type SourceFile struct {
	Path string
	Mode fs.FileMode

	// Open returns a fresh reader over the file content. Each call
	// starts from the beginning.
	Open func() (io.ReadCloser, error)

	// Layer records which layer supplied the final bytes (package
	// path). Empty for archive-backed sources.
	Layer string
}

// Source yields the file set an app is built from. Implementations are
// either layer-merge-backed (packaging) or archive-backed (sideload).
// Files is finite and restartable only by calling it again.
type Source interface {
	// AppName is the app identifier the files belong to.
	AppName() string

	// Files lists every file in the source. The slice order carries no
	// meaning; manifest fingerprints are order-independent.
	Files() ([]SourceFile, error)
}

// Crypter wraps content encryption. A nil Crypter means encryption is
// a pass-through no-op. Content hashes are always computed over
// plaintext, so a Crypter is invisible to change detection.
type Crypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

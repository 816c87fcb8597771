// Package sealed provides the optional encryption adapter for
// protected app archives. It wraps filippo.io/age with scrypt
// passphrase recipients: decrypt-then-hash on read, hash-then-encrypt
// on write. Content hashes are always computed over plaintext, so an
// encrypted source and its plaintext twin produce identical manifest
// fingerprints.
package sealed

import (
	"bytes"
	"io"

	"filippo.io/age"

	"github.com/arthur-debert/confpack/pkg/errors"
	"github.com/arthur-debert/confpack/pkg/types"
)

// passphraseCrypter implements types.Crypter using age's scrypt
// recipient/identity pair.
type passphraseCrypter struct {
	passphrase string
}

// NewPassphraseCrypter returns a Crypter that seals content to the
// given passphrase. An empty passphrase is rejected at use time with a
// DECRYPTION error rather than silently producing unprotected output.
func NewPassphraseCrypter(passphrase string) types.Crypter {
	return &passphraseCrypter{passphrase: passphrase}
}

func (c *passphraseCrypter) Encrypt(plaintext []byte) ([]byte, error) {
	if c.passphrase == "" {
		return nil, errors.New(errors.ErrDecryption, "empty passphrase")
	}
	recipient, err := age.NewScryptRecipient(c.passphrase)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "creating scrypt recipient")
	}

	var sealedBuffer bytes.Buffer
	writer, err := age.Encrypt(&sealedBuffer, recipient)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "creating age encryptor")
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "writing plaintext to age encryptor")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "finalizing age encryption")
	}
	return sealedBuffer.Bytes(), nil
}

func (c *passphraseCrypter) Decrypt(ciphertext []byte) ([]byte, error) {
	if c.passphrase == "" {
		return nil, errors.New(errors.ErrDecryption, "empty passphrase")
	}
	identity, err := age.NewScryptIdentity(c.passphrase)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "creating scrypt identity")
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		// Wrong passphrase and tampered ciphertext both land here.
		return nil, errors.Wrap(err, errors.ErrDecryption, "decrypting sealed content")
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDecryption, "reading decrypted content")
	}
	return plaintext, nil
}

// wrappedSource decrypts every file's content on open.
type wrappedSource struct {
	inner   types.Source
	crypter types.Crypter
}

// WrapSource returns a Source whose file contents are decrypted with
// the given crypter on read. A nil crypter returns the source
// unchanged (encryption is a pass-through when no secrets provider is
// configured).
func WrapSource(src types.Source, crypter types.Crypter) types.Source {
	if crypter == nil {
		return src
	}
	return &wrappedSource{inner: src, crypter: crypter}
}

func (s *wrappedSource) AppName() string {
	return s.inner.AppName()
}

func (s *wrappedSource) Files() ([]types.SourceFile, error) {
	files, err := s.inner.Files()
	if err != nil {
		return nil, err
	}
	out := make([]types.SourceFile, len(files))
	for i, file := range files {
		out[i] = file
		innerOpen := file.Open
		out[i].Open = func() (io.ReadCloser, error) {
			reader, err := innerOpen()
			if err != nil {
				return nil, err
			}
			ciphertext, err := io.ReadAll(reader)
			closeErr := reader.Close()
			if err != nil {
				return nil, err
			}
			if closeErr != nil {
				return nil, closeErr
			}
			plaintext, err := s.crypter.Decrypt(ciphertext)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(bytes.NewReader(plaintext)), nil
		}
	}
	return out, nil
}

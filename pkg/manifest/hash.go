package manifest

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// HashContent computes the hex-encoded BLAKE3-256 digest of raw file
// content. Hashes are always taken over plaintext bytes, never over
// encrypted or compressed representations, so fingerprints stay stable
// regardless of how content is stored at rest.
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint computes the order-independent manifest digest: BLAKE3
// over the sorted list of (path, hash, mode) tuples. Two manifests with
// the same file set always produce the same fingerprint no matter what
// order their files were enumerated in.
func Fingerprint(entries []FileEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%04o", e.Path, e.Hash, e.Mode.Perm()))
	}
	sort.Strings(lines)

	hasher := blake3.New()
	for _, line := range lines {
		hasher.Write([]byte(line))
		hasher.Write([]byte{'\n'})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// ShortHash returns the first 12 hex characters of a digest, the form
// used in log output and archive name placeholders.
func ShortHash(digest string) string {
	if len(digest) <= 12 {
		return digest
	}
	return digest[:12]
}

// HashStrings digests an ordered list of strings. Used for the
// layers_hash archive name placeholder.
func HashStrings(values []string) string {
	hasher := blake3.New()
	hasher.Write([]byte(strings.Join(values, "\n")))
	return hex.EncodeToString(hasher.Sum(nil))
}

package crypto

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

// SHA1HexLength is the length of a full SHA-1 hex digest.
const SHA1HexLength = sha1.Size * 2

// HashSHA256 returns the lowercase hex SHA-256 digest of text.
func HashSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashSHA1 returns the lowercase hex SHA-1 digest of text fitted to length
// characters. A length of zero or less returns the full 40 character digest.
// Shorter lengths return a prefix; longer lengths repeat the digest cyclically
// until the requested length is reached.
func HashSHA1(text string, length int) string {
	sum := sha1.Sum([]byte(text))
	digest := hex.EncodeToString(sum[:])
	return fitDigest(digest, length)
}

func fitDigest(digest string, length int) string {
	if length <= 0 || length == len(digest) {
		return digest
	}
	if length < len(digest) {
		return digest[:length]
	}

	var b strings.Builder
	b.Grow(length)
	for b.Len() < length {
		remaining := length - b.Len()
		if remaining >= len(digest) {
			b.WriteString(digest)
		} else {
			b.WriteString(digest[:remaining])
		}
	}
	return b.String()
}

// deriveMaterial hashes data with SHA-256 and returns the raw digest.
func deriveMaterial(data string) [sha256.Size]byte {
	return sha256.Sum256([]byte(data))
}

// Package keys derives deterministic composite keys from resource id tuples.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// Separator joins the escaped ids of a composite key.
	Separator = "#"

	// MaxLength is the longest composite key kept verbatim. Longer keys are
	// hashed to stay well inside DynamoDB's 2048-byte partition key limit.
	MaxLength = 1024

	hashPrefix = "sha256:"
)

var escaper = strings.NewReplacer(`\`, `\\`, Separator, `\`+Separator)

// Composite joins ids with Separator. Backslashes and separators inside ids
// are escaped, so distinct tuples never collide ("a#b" vs "a", "b").
func Composite(ids []string) string {
	escaped := make([]string, len(ids))
	for i, id := range ids {
		escaped[i] = escaper.Replace(id)
	}
	key := strings.Join(escaped, Separator)
	if len(key) > MaxLength {
		return Hash(key)
	}
	return key
}

// Hash returns a fixed-length key for an arbitrary string.
func Hash(data string) string {
	h := sha256.Sum256([]byte(data))
	return hashPrefix + hex.EncodeToString(h[:])
}

// IsHashed reports whether key was produced by Hash.
func IsHashed(key string) bool {
	return strings.HasPrefix(key, hashPrefix)
}

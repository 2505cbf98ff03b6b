package deduplication

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"hogflow/internal/constants"
)

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
}

// keyFunc derives the claim key of an invocation. Unknown algorithms fall back
// to sha256; the config validator rejects them before this point.
func keyFunc(algorithm string) func(eventUUID, functionID string) string {
	newHash, ok := hashes[strings.ToLower(algorithm)]
	if !ok {
		newHash = sha256.New
	}
	return func(eventUUID, functionID string) string {
		h := newHash()
		// Length prefixes keep ("ab", "c") and ("a", "bc") apart.
		fmt.Fprintf(h, "%d:%s|%d:%s", len(eventUUID), eventUUID, len(functionID), functionID)
		return constants.CacheKeyPrefixGuard + hex.EncodeToString(h.Sum(nil))
	}
}

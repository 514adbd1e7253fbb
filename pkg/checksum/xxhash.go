// Package checksum provides fast content digests used to spot duplicate
// submissions in logs and acknowledgments.
package checksum

import (
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Content returns the xxhash digest of a submitted payload as a hex
// string.
func Content(payload string) string {
	digest := xxhash.New()
	digest.WriteString(payload)

	return hex.EncodeToString(digest.Sum(nil))
}

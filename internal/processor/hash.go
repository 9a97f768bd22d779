package processor

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints document content for change detection. Documents
// whose hash matches the stored row are skipped on re-scrape.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

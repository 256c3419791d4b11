package enforce

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// ComputeContentHash digests a story document. CRLF line endings are
// folded to LF first so a Windows checkout hashes like the original.
func ComputeContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ReplaceAll(content, "\r\n", "\n")))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// HashFile returns the content hash of the document at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return ComputeContentHash(string(data)), nil
}

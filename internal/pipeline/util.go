package pipeline

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/pendergraft/contrapull/internal/validation"
)

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// computeHash computes a SHA256 hash of content.
func computeHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// dedupeAddresses normalizes addresses and drops duplicates and empty
// entries, preserving first-seen order.
func dedupeAddresses(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		norm := validation.NormalizeAddress(addr)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		result = append(result, norm)
	}
	return result
}

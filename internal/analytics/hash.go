// Package analytics maintains the privacy-preserving rollups stored in chat
// metadata: incremental per-event updates on sub-chats and their parents,
// ground-truth reconciliation of parent rollups, and the metadata schema
// migration. End-user identifiers enter aggregated structures only through a
// one-way hash; capability decisions elsewhere always use the real
// identifier, never the hash.
package analytics

import (
	"crypto/sha256"
	"encoding/hex"
)

// userHashLength is the number of hex characters kept from the digest.
// 64 bits of a SHA-256 digest is far below any plausible collision count
// for per-app user populations while keeping metadata keys short.
const userHashLength = 16

// HashUserID derives the stable display form of an end-user identifier for
// aggregated metadata. There is no stored reverse mapping anywhere.
func HashUserID(endUserID string) string {
	sum := sha256.Sum256([]byte(endUserID))
	return "u_" + hex.EncodeToString(sum[:])[:userHashLength]
}

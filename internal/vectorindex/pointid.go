package vectorindex

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// PointID maps an application game ID such as "steam:440" onto a Qdrant
// point ID.
//
// Qdrant only accepts unsigned integers or UUIDs as point IDs, so the game ID
// is hashed with SHA-256, the first 16 bytes are kept, and the version and
// variant bits are overwritten so the result parses as a version 4 UUID. This
// is a format shim for Qdrant's ID validator: the value is deterministic, not
// random, and carries no security meaning. The original game ID always travels
// in the point payload, so nothing ever needs to reverse this mapping.
func PointID(gameID string) string {
	sum := sha256.Sum256([]byte(gameID))

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant

	return id.String()
}

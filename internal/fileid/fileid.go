// Package fileid derives deterministic identifiers for uploaded content and chunks.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// ContentHash returns the hex SHA-256 of content. Two uploads with the same bytes
// get the same hash regardless of filename.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChunkID derives a chunk id from its document and start offset, so re-ingesting
// unchanged text produces the same ids.
func ChunkID(documentID string, start int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+":"+strconv.Itoa(start))).String()
}

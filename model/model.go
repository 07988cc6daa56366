package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// IdempotencyKey derives the deterministic admission key for a logical request.
// Two retransmissions of the same (channel, messageID, requestID) triple always
// hash to the same key. When neither a source message id nor a client request
// id is present there is nothing stable to anchor on, so each call is a new
// logical request and gets a fresh UUID-based key.
func IdempotencyKey(channel, messageID, requestID string) string {
	if messageID == "" && requestID == "" {
		return GenerateUUIDWithSuffix("idem")
	}
	data := fmt.Sprintf("%s:%s:%s", channel, messageID, requestID)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

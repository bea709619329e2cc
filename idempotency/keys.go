package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// ExecutionKey derives the execution-layer idempotency key:
// SHA-256(tenant | intent | tool | canonical(params) | registry_version),
// hex-encoded. Distinct intents with identical parameters hash differently;
// replays of the same intent, parameters and version hash identically.
func ExecutionKey(tenantID, intentID, toolName string, params map[string]interface{}, registryVersion int64) (string, error) {
	canonical, err := Canonicalize(params)
	if err != nil {
		return "", err
	}
	return digest(tenantID, intentID, toolName, string(canonical), strconv.FormatInt(registryVersion, 10)), nil
}

// SemanticKey is the adapter-layer variant without the intent id, for the
// "never double-write externally across duplicate intents" policy. The
// default wiring dedupes on the execution-layer key.
func SemanticKey(tenantID, toolName string, params map[string]interface{}, registryVersion int64) (string, error) {
	canonical, err := Canonicalize(params)
	if err != nil {
		return "", err
	}
	return digest(tenantID, toolName, string(canonical), strconv.FormatInt(registryVersion, 10)), nil
}

func digest(parts ...string) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

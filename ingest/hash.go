package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FallbackHash derives a stable content hash for killmails that arrive
// without an upstream verification hash. The canonical hash algorithm belongs
// to the upstream data source and cannot be reproduced here, so this value is
// non-authoritative and will never match it; the prefix makes that visible.
func FallbackHash(killmail any) string {
	payload, err := json.Marshal(killmail)
	if err != nil {
		return "unverified-invalid"
	}

	sum := sha256.Sum256(payload)
	return "unverified-" + hex.EncodeToString(sum[:])
}

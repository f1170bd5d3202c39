package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint hashes the identifying parts of a record. encoding/json sorts map
// keys, so equal inputs always produce equal fingerprints.
func Fingerprint(sourceID, externalID, signalType, capturedAt string, payload map[string]any) string {
	canonical, err := json.Marshal(map[string]any{
		"source_id":   sourceID,
		"external_id": externalID,
		"signal_type": signalType,
		"captured_at": capturedAt,
		"payload":     payload,
	})
	if err != nil {
		// Payloads come from decoded JSON or HTML text, so this only trips on NaN values.
		canonical = []byte(sourceID + "|" + externalID + "|" + signalType + "|" + capturedAt)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint computes a deterministic content hash of a compiled model.
// Two structurally identical models always hash the same; the orchestrator
// uses this to log whether a re-trigger actually changed the stored pipeline.
func Fingerprint(m *Model) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal model fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

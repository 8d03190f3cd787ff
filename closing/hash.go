package closing

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// frozenContent is the part of a record the integrity hash covers.
type frozenContent struct {
	PerWorker []WorkerLine `json:"perWorker"`
	Totals    Totals       `json:"totals"`
}

// IntegrityHash is an xxhash64 checksum over the canonical JSON of the
// lines and totals. It detects corruption and tampering; it is not a
// security primitive.
func IntegrityHash(lines []WorkerLine, totals Totals) (string, error) {
	payload, err := json.Marshal(frozenContent{PerWorker: lines, Totals: totals})
	if err != nil {
		return "", fmt.Errorf("failed to encode closing content: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(payload)), nil
}

// VerifyRecord recomputes the hash of r and compares it with the stored one.
func VerifyRecord(r *Record) error {
	computed, err := IntegrityHash(r.PerWorker, r.Totals)
	if err != nil {
		return err
	}
	if computed != r.IntegrityHash {
		return &IntegrityError{ClosingID: r.ID, Stored: r.IntegrityHash, Computed: computed}
	}
	return nil
}

package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// IntegritySpec is the server-declared shape of a list payload.
// It is supplied out-of-band by the list distribution channel.
type IntegritySpec struct {
	TotalEntries int     `json:"totalEntries"`
	ErrorRate    float64 `json:"errorRate"`
	ContentHash  string  `json:"contentHash"`
}

// ComputedSpec is the shape measured from the bytes actually downloaded.
//
//   - TotalEntries: number of records in the payload
//   - ErrorRate: rejected records / TotalEntries (0 for an empty payload)
//   - ContentHash: lowercase hex SHA-256 of the raw payload
type ComputedSpec struct {
	TotalEntries int
	ErrorRate    float64
	ContentHash  string
}

// Verify reports whether the computed spec matches the expected one on all
// three fields. Pure predicate.
func Verify(computed ComputedSpec, expected IntegritySpec) bool {
	return computed.TotalEntries == expected.TotalEntries &&
		computed.ErrorRate == expected.ErrorRate &&
		computed.ContentHash == expected.ContentHash
}

// NewComputedSpec builds a ComputedSpec from a payload and its record counts.
func NewComputedSpec(payload []byte, total, rejected int) ComputedSpec {
	var rate float64
	if total > 0 {
		rate = float64(rejected) / float64(total)
	}
	return ComputedSpec{
		TotalEntries: total,
		ErrorRate:    rate,
		ContentHash:  ContentHash(payload),
	}
}

// ContentHash returns the lowercase hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

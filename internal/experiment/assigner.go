// Package experiment assigns documents to experiment variants deterministically.
package experiment

import (
	"crypto/sha256"
	"encoding/binary"
)

// Bucket maps identity into [0, buckets) for experimentID. The value is the
// first 8 bytes of SHA-256(experimentID + ":" + identity) read big-endian,
// modulo buckets. Returns 0 when buckets < 2.
func Bucket(identity, experimentID string, buckets int) int {
	if buckets < 2 {
		return 0
	}
	sum := sha256.Sum256([]byte(experimentID + ":" + identity))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(buckets))
}

// Assigner buckets identities for a single experiment
type Assigner struct {
	experimentID string
}

// NewAssigner creates an assigner for experimentID
func NewAssigner(experimentID string) *Assigner {
	return &Assigner{experimentID: experimentID}
}

// ExperimentID returns the experiment the assigner buckets for
func (a *Assigner) ExperimentID() string {
	return a.experimentID
}

// Choose returns the variant index for identity among n variants
func (a *Assigner) Choose(identity string, n int) int {
	return Bucket(identity, a.experimentID, n)
}

package experiment

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucket_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		identity := fmt.Sprintf("org-%d", i)
		first := Bucket(identity, "strategy-order", 3)
		assert.Equal(t, first, Bucket(identity, "strategy-order", 3))
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 3)
	}
}

func TestBucket_MatchesDocumentedFormula(t *testing.T) {
	sum := sha256.Sum256([]byte("exp-1:org-42"))
	expected := int(binary.BigEndian.Uint64(sum[:8]) % 7)

	assert.Equal(t, expected, Bucket("org-42", "exp-1", 7))
}

func TestBucket_DegenerateBuckets(t *testing.T) {
	assert.Equal(t, 0, Bucket("org-1", "exp", 1))
	assert.Equal(t, 0, Bucket("org-1", "exp", 0))
}

func TestBucket_SpreadsIdentities(t *testing.T) {
	counts := make([]int, 2)
	for i := 0; i < 200; i++ {
		counts[Bucket(fmt.Sprintf("org-%d", i), "strategy-order", 2)]++
	}
	assert.Greater(t, counts[0], 0)
	assert.Greater(t, counts[1], 0)
}

func TestAssigner_Choose(t *testing.T) {
	a := NewAssigner("strategy-order")

	assert.Equal(t, "strategy-order", a.ExperimentID())
	assert.Equal(t, Bucket("org-9", "strategy-order", 4), a.Choose("org-9", 4))
}

package core

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func sampleRecord() ImpressionRecord {
	return ImpressionRecord{
		Context:           []float64{0.25, -1.5, 1.0},
		Item:              2,
		Value:             3.0,
		Bid:               1.2,
		EstimatedCTR:      0.4,
		TrueCTR:           0.35,
		BestExpectedValue: 1.1,
		Price:             0.9,
		SecondPrice:       0.9,
		Outcome:           true,
		Won:               true,
		Conversion:        true,
		SalesRevenue:      10,
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func TestComputeImpressionHash(t *testing.T) {
	rec := sampleRecord()

	hash := ComputeImpressionHash("agent_a", 7, rec)

	// Verify hash is 64 characters (SHA256 hex encoding)
	check.Equal(t, 64, len(hash))
	check.True(t, isHex(hash))

	// Same inputs should produce same hash (deterministic)
	check.Equal(t, hash, ComputeImpressionHash("agent_a", 7, rec))

	// Verify exact hash calculation
	expectedData := "agent_a|7|0.25,-1.5,1|2|3|1.2|0.4|0.35|1.1|0.9|0.9|0|true|true|true|10"
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	check.Equal(t, expectedHash, hash)
}

func TestComputeImpressionHash_DifferentInputs(t *testing.T) {
	base := sampleRecord()
	hash := ComputeImpressionHash("agent_a", 7, base)

	check.NotEqual(t, hash, ComputeImpressionHash("agent_b", 7, base))
	check.NotEqual(t, hash, ComputeImpressionHash("agent_a", 8, base))

	tests := []struct {
		name   string
		mutate func(r *ImpressionRecord)
	}{
		{"context", func(r *ImpressionRecord) { r.Context = []float64{0.25, -1.5000001, 1.0} }},
		{"item", func(r *ImpressionRecord) { r.Item = 1 }},
		{"bid in last bit", func(r *ImpressionRecord) { r.Bid = 1.2000000000000002 }},
		{"price", func(r *ImpressionRecord) { r.Price = 0.95 }},
		{"winning bid", func(r *ImpressionRecord) { r.WinningBid = 0.5 }},
		{"outcome", func(r *ImpressionRecord) { r.Outcome = false }},
		{"conversion", func(r *ImpressionRecord) { r.Conversion = false }},
		{"sales revenue", func(r *ImpressionRecord) { r.SalesRevenue = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(&rec)
			check.NotEqual(t, hash, ComputeImpressionHash("agent_a", 7, rec))
		})
	}
}

func TestChainDigest(t *testing.T) {
	start := ComputeSeedDigest(42)
	check.Equal(t, 64, len(start))
	check.Equal(t, start, ComputeSeedDigest(42))
	check.NotEqual(t, start, ComputeSeedDigest(43))

	h1 := ComputeImpressionHash("agent_a", 0, sampleRecord())
	h2 := ComputeImpressionHash("agent_b", 0, sampleRecord())

	// Order matters
	ab := ChainDigest(ChainDigest(start, h1), h2)
	ba := ChainDigest(ChainDigest(start, h2), h1)
	check.NotEqual(t, ab, ba)

	expected := fmt.Sprintf("%x", sha256.Sum256([]byte(start+"|"+h1)))
	check.Equal(t, expected, ChainDigest(start, h1))
}

func TestComputeRunDigest(t *testing.T) {
	h1 := ComputeImpressionHash("agent_a", 0, sampleRecord())
	h2 := ComputeImpressionHash("agent_b", 0, sampleRecord())

	check.Equal(t, ComputeSeedDigest(9), ComputeRunDigest(9, nil))
	check.Equal(t,
		ChainDigest(ChainDigest(ComputeSeedDigest(9), h1), h2),
		ComputeRunDigest(9, []string{h1, h2}))
	check.NotEqual(t, ComputeRunDigest(9, []string{h1, h2}), ComputeRunDigest(10, []string{h1, h2}))
}

package core

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
)

// ComputeImpressionHash fingerprints one resolved record.
//
// Formula: SHA256(agent + "|" + round + "|" + context + "|" + item + "|" + fields...)
// where context is the comma-joined vector and every float uses the shortest
// representation that round-trips, so any bit difference changes the hash.
func ComputeImpressionHash(agent string, round int, rec ImpressionRecord) string {
	var b strings.Builder
	b.WriteString(agent)
	b.WriteString("|")
	b.WriteString(strconv.Itoa(round))
	b.WriteString("|")
	for i, c := range rec.Context {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(formatFloat(c))
	}
	fmt.Fprintf(&b, "|%d|%s|%s|%s|%s|%s|%s|%s|%s|%t|%t|%t|%s",
		rec.Item,
		formatFloat(rec.Value),
		formatFloat(rec.Bid),
		formatFloat(rec.EstimatedCTR),
		formatFloat(rec.TrueCTR),
		formatFloat(rec.BestExpectedValue),
		formatFloat(rec.Price),
		formatFloat(rec.SecondPrice),
		formatFloat(rec.WinningBid),
		rec.Outcome,
		rec.Won,
		rec.Conversion,
		formatFloat(rec.SalesRevenue),
	)
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

// ComputeSeedDigest is the starting point of a run digest.
//
// Formula: SHA256("seed|" + seed)
func ComputeSeedDigest(seed uint64) string {
	hash := sha256.Sum256([]byte("seed|" + strconv.FormatUint(seed, 10)))
	return fmt.Sprintf("%x", hash)
}

// ChainDigest folds one impression hash into a running digest.
//
// Formula: SHA256(prev + "|" + impressionHash)
func ChainDigest(prev, impressionHash string) string {
	hash := sha256.Sum256([]byte(prev + "|" + impressionHash))
	return fmt.Sprintf("%x", hash)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ComputeRunDigest chains impression hashes in order starting from the seed
// digest. It equals the digest a run accumulates while emitting them.
func ComputeRunDigest(seed uint64, impressionHashes []string) string {
	digest := ComputeSeedDigest(seed)
	for _, h := range impressionHashes {
		digest = ChainDigest(digest, h)
	}
	return digest
}

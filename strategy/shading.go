package strategy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dimdimlv/mt-project/core"
)

const monetaryPrecision int32 = 4 // 4 decimal places for bids (0.0001 precision)

// DefaultShadingKey is the fallback entry of a shading factor table.
const DefaultShadingKey = "default"

// ShadeBid scales bid by factor using decimal arithmetic and rounds to
// monetaryPrecision. A non-positive factor leaves the bid unchanged.
func ShadeBid(bid, factor float64) float64 {
	if factor <= 0 {
		return bid
	}

	// Use decimal arithmetic for precise calculation
	bidDecimal := decimal.NewFromFloat(bid)
	factorDecimal := decimal.NewFromFloat(factor)

	shaded := bidDecimal.Mul(factorDecimal).Round(monetaryPrecision)

	// Convert back to float64
	result, _ := shaded.Float64()
	return result
}

// ResolveShadingFactor looks up agentName in factors (case-insensitive), then
// the DefaultShadingKey entry, then falls back to fallback.
func ResolveShadingFactor(factors map[string]float64, agentName string, fallback float64) float64 {
	if len(factors) > 0 {
		if factor, ok := factors[strings.ToLower(agentName)]; ok && factor > 0 {
			return factor
		}
		if factor, ok := factors[DefaultShadingKey]; ok && factor > 0 {
			return factor
		}
	}
	return fallback
}

// TruthfulBidder bids its expected value per impression.
type TruthfulBidder struct{}

func (TruthfulBidder) Bid(value float64, _ []float64, estimatedCTR float64) float64 {
	return value * estimatedCTR
}

func (TruthfulBidder) Update(core.BidderBatch, int) error { return nil }

// ShadedBidder bids a fixed fraction of its expected value.
type ShadedBidder struct {
	Factor float64
}

func NewShadedBidder(factor float64) (*ShadedBidder, error) {
	if factor <= 0 || factor > 1 {
		return nil, fmt.Errorf("%w: shading factor %.4f must be within (0, 1]", core.ErrInvalidConfig, factor)
	}
	return &ShadedBidder{Factor: factor}, nil
}

func (b *ShadedBidder) Bid(value float64, _ []float64, estimatedCTR float64) float64 {
	return ShadeBid(value*estimatedCTR, b.Factor)
}

func (b *ShadedBidder) Update(core.BidderBatch, int) error { return nil }

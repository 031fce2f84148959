package strategy

import (
	"fmt"

	"github.com/dimdimlv/mt-project/core"
)

// AdaptiveShadingConfig holds the parameters of an AdaptiveShadingBidder.
type AdaptiveShadingConfig struct {
	// InitialFactor is the shading factor before the first update.
	InitialFactor float64

	// TargetWinRate is the share of auctions the bidder tries to win.
	TargetWinRate float64

	// Step scales how far one update moves the factor.
	Step float64

	// MinFactor and MaxFactor clamp the factor.
	MinFactor float64
	MaxFactor float64
}

// DefaultAdaptiveShadingConfig returns a conservative configuration.
func DefaultAdaptiveShadingConfig() AdaptiveShadingConfig {
	return AdaptiveShadingConfig{
		InitialFactor: 0.8,
		TargetWinRate: 0.3,
		Step:          0.5,
		MinFactor:     0.1,
		MaxFactor:     1.0,
	}
}

// AdaptiveShadingBidder shades its expected value by a factor that moves
// toward a target win rate. It keeps its own win history, trimmed in step
// with the agent's impression log.
type AdaptiveShadingBidder struct {
	cfg     AdaptiveShadingConfig
	factor  float64
	history []bool
}

func NewAdaptiveShadingBidder(cfg AdaptiveShadingConfig) (*AdaptiveShadingBidder, error) {
	if cfg.MinFactor <= 0 || cfg.MaxFactor < cfg.MinFactor {
		return nil, fmt.Errorf("%w: factor bounds [%.4f, %.4f] are invalid",
			core.ErrInvalidConfig, cfg.MinFactor, cfg.MaxFactor)
	}
	if cfg.InitialFactor < cfg.MinFactor || cfg.InitialFactor > cfg.MaxFactor {
		return nil, fmt.Errorf("%w: initial factor %.4f outside [%.4f, %.4f]",
			core.ErrInvalidConfig, cfg.InitialFactor, cfg.MinFactor, cfg.MaxFactor)
	}
	if cfg.TargetWinRate < 0 || cfg.TargetWinRate > 1 {
		return nil, fmt.Errorf("%w: target win rate %.4f must be within [0, 1]", core.ErrInvalidConfig, cfg.TargetWinRate)
	}
	if cfg.Step < 0 {
		return nil, fmt.Errorf("%w: step must be non-negative, got %.4f", core.ErrInvalidConfig, cfg.Step)
	}
	return &AdaptiveShadingBidder{cfg: cfg, factor: cfg.InitialFactor}, nil
}

func (b *AdaptiveShadingBidder) Factor() float64 {
	return b.factor
}

// WinRate is the share of won impressions in the current history, or 0 when empty.
func (b *AdaptiveShadingBidder) WinRate() float64 {
	if len(b.history) == 0 {
		return 0
	}
	won := 0
	for _, w := range b.history {
		if w {
			won++
		}
	}
	return float64(won) / float64(len(b.history))
}

func (b *AdaptiveShadingBidder) Bid(value float64, _ []float64, estimatedCTR float64) float64 {
	return ShadeBid(value*estimatedCTR, b.factor)
}

// Update replaces the win history with the batch and moves the factor by
// Step times the gap between the target and observed win rate.
func (b *AdaptiveShadingBidder) Update(batch core.BidderBatch, _ int) error {
	if len(batch.Won) != batch.Len() {
		return fmt.Errorf("adaptive shading: batch has %d win flags for %d bids", len(batch.Won), batch.Len())
	}
	b.history = append(b.history[:0], batch.Won...)
	if len(b.history) == 0 {
		return nil
	}

	factor := b.factor * (1 + b.cfg.Step*(b.cfg.TargetWinRate-b.WinRate()))
	b.factor = min(max(factor, b.cfg.MinFactor), b.cfg.MaxFactor)
	return nil
}

// ClearLogs keeps the last memory entries of the win history; 0 empties it.
func (b *AdaptiveShadingBidder) ClearLogs(memory int) {
	if memory <= 0 {
		b.history = b.history[:0]
		return
	}
	if n := len(b.history); memory < n {
		b.history = append(b.history[:0], b.history[n-memory:]...)
	}
}

// HistoryLen returns the number of impressions in the win history.
func (b *AdaptiveShadingBidder) HistoryLen() int {
	return len(b.history)
}

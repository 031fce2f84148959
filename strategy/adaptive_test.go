package strategy

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/dimdimlv/mt-project/core"
)

func wonBatch(won ...bool) core.BidderBatch {
	return core.BidderBatch{
		Bids: make([]float64, len(won)),
		Won:  won,
	}
}

func TestAdaptiveShadingBidder_MovesTowardTarget(t *testing.T) {
	cfg := AdaptiveShadingConfig{InitialFactor: 0.5, TargetWinRate: 0.5, Step: 1.0, MinFactor: 0.1, MaxFactor: 1.0}

	tests := []struct {
		name           string
		won            []bool
		expectedFactor float64
	}{
		{"losing everything raises the factor", []bool{false, false, false, false}, 0.75},
		{"winning everything lowers the factor", []bool{true, true, true, true}, 0.25},
		{"on target keeps the factor", []bool{true, false, true, false}, 0.5},
		{"empty batch keeps the factor", []bool{}, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewAdaptiveShadingBidder(cfg)
			assert.NoError(t, err)

			assert.NoError(t, b.Update(wonBatch(tt.won...), 1))

			check.Equal(t, tt.expectedFactor, b.Factor())
			check.Equal(t, len(tt.won), b.HistoryLen())
		})
	}
}

func TestAdaptiveShadingBidder_Clamps(t *testing.T) {
	cfg := AdaptiveShadingConfig{InitialFactor: 0.9, TargetWinRate: 1.0, Step: 10.0, MinFactor: 0.2, MaxFactor: 1.0}
	b, err := NewAdaptiveShadingBidder(cfg)
	assert.NoError(t, err)

	assert.NoError(t, b.Update(wonBatch(false, false), 1))
	check.Equal(t, 1.0, b.Factor())

	cfg.TargetWinRate = 0
	b, err = NewAdaptiveShadingBidder(cfg)
	assert.NoError(t, err)

	assert.NoError(t, b.Update(wonBatch(true, true), 1))
	check.Equal(t, 0.2, b.Factor())
}

func TestAdaptiveShadingBidder_BidUsesFactor(t *testing.T) {
	b, err := NewAdaptiveShadingBidder(AdaptiveShadingConfig{
		InitialFactor: 0.5, TargetWinRate: 0.5, Step: 1.0, MinFactor: 0.1, MaxFactor: 1.0,
	})
	assert.NoError(t, err)

	check.Equal(t, 1.0, b.Bid(4.0, nil, 0.5))

	assert.NoError(t, b.Update(wonBatch(false, false), 1))
	check.Equal(t, 1.5, b.Bid(4.0, nil, 0.5))
}

func TestAdaptiveShadingBidder_ClearLogs(t *testing.T) {
	tests := []struct {
		name        string
		memory      int
		expectedLen int
		expectedWin float64
	}{
		{"zero memory empties", 0, 0, 0},
		{"keeps trailing window", 2, 2, 1.0},
		{"window larger than history", 10, 4, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewAdaptiveShadingBidder(DefaultAdaptiveShadingConfig())
			assert.NoError(t, err)
			assert.NoError(t, b.Update(wonBatch(false, false, true, true), 1))

			b.ClearLogs(tt.memory)

			check.Equal(t, tt.expectedLen, b.HistoryLen())
			check.Equal(t, tt.expectedWin, b.WinRate())
		})
	}
}

func TestAdaptiveShadingBidder_RejectsMalformedBatch(t *testing.T) {
	b, err := NewAdaptiveShadingBidder(DefaultAdaptiveShadingConfig())
	assert.NoError(t, err)

	err = b.Update(core.BidderBatch{Bids: []float64{1, 2}, Won: []bool{true}}, 1)
	check.Error(t, err)
}

func TestNewAdaptiveShadingBidder_Validation(t *testing.T) {
	base := DefaultAdaptiveShadingConfig()

	tests := []struct {
		name   string
		mutate func(c *AdaptiveShadingConfig)
	}{
		{"zero min factor", func(c *AdaptiveShadingConfig) { c.MinFactor = 0 }},
		{"inverted bounds", func(c *AdaptiveShadingConfig) { c.MaxFactor = 0.05 }},
		{"initial below min", func(c *AdaptiveShadingConfig) { c.InitialFactor = 0.05 }},
		{"target above one", func(c *AdaptiveShadingConfig) { c.TargetWinRate = 1.5 }},
		{"negative step", func(c *AdaptiveShadingConfig) { c.Step = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := NewAdaptiveShadingBidder(cfg)
			check.True(t, errors.Is(err, core.ErrInvalidConfig))
		})
	}
}

func TestAdaptiveShadingBidder_FollowsAgentMemory(t *testing.T) {
	b, err := NewAdaptiveShadingBidder(DefaultAdaptiveShadingConfig())
	assert.NoError(t, err)
	allocator, err := NewStaticAllocator([]float64{0.5})
	assert.NoError(t, err)
	agent, err := core.NewAgent("a", []float64{2.0}, allocator, b, 1)
	assert.NoError(t, err)

	agent.ClearLogs()
	check.Equal(t, 0, b.HistoryLen())
}

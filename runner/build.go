package runner

import (
	"fmt"
	"math"

	"github.com/dimdimlv/mt-project/config"
	"github.com/dimdimlv/mt-project/core"
	"github.com/dimdimlv/mt-project/strategy"
)

// buildCatalogue draws one agent's item embeddings and values. Every entry of
// an embedding row, bias column included, is N(0, EmbeddingVar²). Values
// come from the config or from a log-normal draw.
func buildCatalogue(rng core.RandSource, auction config.AuctionConfig, agent config.AgentConfig) core.Catalogue {
	embeddings := make([][]float64, agent.NumItems)
	for i := range embeddings {
		row := make([]float64, auction.EmbeddingSize+1)
		for j := range row {
			row[j] = rng.NormFloat64() * auction.EmbeddingVar
		}
		embeddings[i] = row
	}

	values := make([]float64, agent.NumItems)
	if len(agent.Values) > 0 {
		copy(values, agent.Values)
	} else {
		for i := range values {
			values[i] = math.Exp(agent.ValueMu + agent.ValueSigma*rng.NormFloat64())
		}
	}

	return core.Catalogue{Embeddings: embeddings, Values: values}
}

func buildAllocator(agent config.AgentConfig, cat core.Catalogue, auction config.AuctionConfig, rng core.RandSource) (core.Allocator, error) {
	switch agent.Allocator.Kind {
	case config.AllocatorOracle:
		return strategy.NewOracleAllocator(cat.Embeddings)
	case config.AllocatorNoisyOracle:
		return strategy.NewNoisyOracleAllocator(cat.Embeddings, agent.Allocator.NoiseStd, rng)
	case config.AllocatorProjected:
		return strategy.NewProjectedAllocator(cat.Embeddings, auction.ObsEmbeddingSize)
	case config.AllocatorStatic:
		return strategy.NewStaticAllocator(agent.Allocator.CTRs)
	default:
		return nil, fmt.Errorf("%w: unknown allocator kind %q", core.ErrInvalidConfig, agent.Allocator.Kind)
	}
}

func buildBidder(agent config.AgentConfig, shadingFactors map[string]float64) (core.Bidder, error) {
	switch agent.Bidder.Kind {
	case config.BidderTruthful:
		return strategy.TruthfulBidder{}, nil
	case config.BidderShaded:
		factor := strategy.ResolveShadingFactor(shadingFactors, agent.Name, agent.Bidder.Factor)
		return strategy.NewShadedBidder(factor)
	case config.BidderAdaptive:
		return strategy.NewAdaptiveShadingBidder(adaptiveConfig(agent.Bidder))
	default:
		return nil, fmt.Errorf("%w: unknown bidder kind %q", core.ErrInvalidConfig, agent.Bidder.Kind)
	}
}

// adaptiveConfig overlays the non-zero bidder settings on the strategy defaults.
func adaptiveConfig(b config.BidderConfig) strategy.AdaptiveShadingConfig {
	cfg := strategy.DefaultAdaptiveShadingConfig()
	if b.InitialFactor > 0 {
		cfg.InitialFactor = b.InitialFactor
	}
	if b.TargetWinRate > 0 {
		cfg.TargetWinRate = b.TargetWinRate
	}
	if b.Step > 0 {
		cfg.Step = b.Step
	}
	if b.MinFactor > 0 {
		cfg.MinFactor = b.MinFactor
	}
	if b.MaxFactor > 0 {
		cfg.MaxFactor = b.MaxFactor
	}
	return cfg
}

func buildMechanism(auction config.AuctionConfig, tieSource core.RandSource) (core.AllocationMechanism, error) {
	switch auction.Mechanism {
	case config.MechanismFirstPrice:
		return core.NewFirstPrice(auction.Reserve, tieSource), nil
	case config.MechanismSecondPrice:
		return core.NewSecondPrice(auction.Reserve, tieSource), nil
	default:
		return nil, fmt.Errorf("%w: unknown mechanism %q", core.ErrInvalidConfig, auction.Mechanism)
	}
}

func toCoreConfig(a config.AuctionConfig) core.AuctionConfig {
	return core.AuctionConfig{
		MaxSlots:                       a.MaxSlots,
		EmbeddingSize:                  a.EmbeddingSize,
		EmbeddingVar:                   a.EmbeddingVar,
		ObsEmbeddingSize:               a.ObsEmbeddingSize,
		NumParticipantsPerRound:        a.NumParticipantsPerRound,
		FixedCVR:                       a.FixedCVR,
		FixedSalesRevenuePerConversion: a.FixedSalesRevenuePerConversion,
	}
}

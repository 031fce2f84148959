package core

import (
	"fmt"
	"math"
)

// AuctionConfig holds the round-level parameters of an Auction.
type AuctionConfig struct {
	// MaxSlots bounds the number of slots; each round samples uniformly from [1, MaxSlots].
	MaxSlots int

	// EmbeddingSize is the number of noise dimensions in the true context.
	EmbeddingSize int

	// EmbeddingVar scales the Gaussian context noise.
	EmbeddingVar float64

	// ObsEmbeddingSize is how many leading context dimensions non-oracle agents observe.
	ObsEmbeddingSize int

	// NumParticipantsPerRound agents are drawn without replacement every round.
	NumParticipantsPerRound int

	// FixedCVR is the probability a click converts.
	FixedCVR float64

	// FixedSalesRevenuePerConversion is the revenue booked per conversion.
	FixedSalesRevenuePerConversion float64
}

// Catalogue is the ground truth behind one agent's items.
type Catalogue struct {
	// Embeddings holds one row per item, EmbeddingSize+1 wide (bias last).
	Embeddings [][]float64

	// Values holds the value-if-clicked of each item.
	Values []float64
}

// Auction runs simulation rounds over a fixed pool of agents.
//
// Every random draw comes from one RandSource in this order per round:
//  1. slot count (one Intn)
//  2. context noise (EmbeddingSize NormFloat64)
//  3. participants (NumParticipantsPerRound Intn)
//  4. clicks, one Float64 per awarded slot in slot order
//  5. conversions, one Float64 per clicked winner in participant order
//
// Tie-breaking inside the mechanism and sampling inside strategies use their
// own sources.
type Auction struct {
	rng        RandSource
	mechanism  AllocationMechanism
	agents     []*Agent
	catalogues map[string]Catalogue
	cfg        AuctionConfig
	observer   RoundObserver

	revenue float64
}

// NewAuction validates the configuration and catalogues and builds an Auction.
func NewAuction(
	rng RandSource,
	mechanism AllocationMechanism,
	agents []*Agent,
	catalogues map[string]Catalogue,
	cfg AuctionConfig,
) (*Auction, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is nil", ErrInvalidConfig)
	}
	if mechanism == nil {
		return nil, fmt.Errorf("%w: allocation mechanism is nil", ErrInvalidConfig)
	}
	if cfg.MaxSlots < 1 {
		return nil, fmt.Errorf("%w: max_slots must be at least 1, got %d", ErrInvalidConfig, cfg.MaxSlots)
	}
	if cfg.EmbeddingSize < 0 || cfg.ObsEmbeddingSize < 0 || cfg.ObsEmbeddingSize > cfg.EmbeddingSize {
		return nil, fmt.Errorf("%w: obs_embedding_size %d must be within [0, %d]",
			ErrInvalidConfig, cfg.ObsEmbeddingSize, cfg.EmbeddingSize)
	}
	if cfg.NumParticipantsPerRound < 1 || cfg.NumParticipantsPerRound > len(agents) {
		return nil, fmt.Errorf("%w: num_participants_per_round %d must be within [1, %d]",
			ErrInvalidConfig, cfg.NumParticipantsPerRound, len(agents))
	}
	if cfg.FixedCVR < 0 || cfg.FixedCVR > 1 {
		return nil, fmt.Errorf("%w: fixed_cvr %.4f must be within [0, 1]", ErrInvalidConfig, cfg.FixedCVR)
	}

	seen := make(map[string]bool, len(agents))
	for _, agent := range agents {
		if seen[agent.Name] {
			return nil, fmt.Errorf("%w: duplicate agent name %s", ErrInvalidConfig, agent.Name)
		}
		seen[agent.Name] = true

		cat, ok := catalogues[agent.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no catalogue for agent %s", ErrInvalidConfig, agent.Name)
		}
		if len(cat.Embeddings) != agent.NumItems() || len(cat.Values) != agent.NumItems() {
			return nil, fmt.Errorf("%w: catalogue for agent %s has %d embeddings and %d values, agent has %d items",
				ErrInvalidConfig, agent.Name, len(cat.Embeddings), len(cat.Values), agent.NumItems())
		}
		for i, row := range cat.Embeddings {
			if len(row) != cfg.EmbeddingSize+1 {
				return nil, fmt.Errorf("%w: agent %s item %d embedding has width %d, want %d",
					ErrInvalidConfig, agent.Name, i, len(row), cfg.EmbeddingSize+1)
			}
		}
	}

	return &Auction{
		rng:        rng,
		mechanism:  mechanism,
		agents:     agents,
		catalogues: catalogues,
		cfg:        cfg,
	}, nil
}

// SetObserver registers an observer notified after every round.
func (a *Auction) SetObserver(observer RoundObserver) {
	a.observer = observer
}

func (a *Auction) Agents() []*Agent {
	return a.agents
}

func (a *Auction) Config() AuctionConfig {
	return a.cfg
}

// Revenue returns the clearing prices accumulated since the last ClearRevenue.
func (a *Auction) Revenue() float64 {
	return a.revenue
}

func (a *Auction) ClearRevenue() {
	a.revenue = 0
}

// slotResult is what a winning agent is charged for its first slot.
type slotResult struct {
	slot        int
	price       float64
	secondPrice float64
	click       bool
}

// SimulateOpportunity runs one round end to end. On success every participant
// has exactly one new, fully resolved record. On error the participants' logs
// and utilities and the auction revenue are as they were before the round;
// random draws already made are not replayed.
func (a *Auction) SimulateOpportunity() (result *RoundResult, err error) {
	// Sample the number of slots uniformly between [1, max_slots]
	numSlots := 1 + a.rng.Intn(a.cfg.MaxSlots)

	// Sample a true context vector and mask it into the observable one
	trueContext := make([]float64, a.cfg.EmbeddingSize+1)
	for i := 0; i < a.cfg.EmbeddingSize; i++ {
		trueContext[i] = a.rng.NormFloat64() * a.cfg.EmbeddingVar
	}
	trueContext[a.cfg.EmbeddingSize] = 1.0

	obsContext := make([]float64, a.cfg.ObsEmbeddingSize+1)
	copy(obsContext, trueContext[:a.cfg.ObsEmbeddingSize])
	obsContext[a.cfg.ObsEmbeddingSize] = 1.0

	participantIdx := sampleWithoutReplacement(a.rng, len(a.agents), a.cfg.NumParticipantsPerRound)
	participants := make([]*Agent, len(participantIdx))
	for i, idx := range participantIdx {
		participants[i] = a.agents[idx]
	}

	checkpoints := make([]agentCheckpoint, len(participants))
	for i, agent := range participants {
		checkpoints[i] = agent.checkpoint()
	}
	defer func() {
		if err != nil {
			for i, agent := range participants {
				agent.restore(checkpoints[i])
			}
		}
	}()

	// Solicit bids
	bids := make([]float64, len(participants))
	items := make([]int, len(participants))
	trueCTRs := make([]float64, len(participants))
	for i, agent := range participants {
		context := obsContext
		if agent.usesTrueContext() {
			context = trueContext
		}
		bid, item, err := agent.Bid(context)
		if err != nil {
			return nil, fmt.Errorf("soliciting bids: %w", err)
		}
		bids[i], items[i] = bid, item

		cat := a.catalogues[agent.Name]
		agentCTRs := make([]float64, len(cat.Embeddings))
		bestExpectedValue := math.Inf(-1)
		for j, embedding := range cat.Embeddings {
			agentCTRs[j] = sigmoid(dot(trueContext, embedding))
			bestExpectedValue = max(bestExpectedValue, agentCTRs[j]*cat.Values[j])
		}
		trueCTRs[i] = agentCTRs[item]

		open, err := agent.openImpression()
		if err != nil {
			return nil, err
		}
		if err := open.SetTrueCTR(bestExpectedValue, trueCTRs[i]); err != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
		}
	}

	alloc, err := a.mechanism.Allocate(bids, numSlots)
	if err != nil {
		return nil, fmt.Errorf("allocating %d slots: %w", numSlots, err)
	}
	if err := validateAllocation(alloc, len(bids), numSlots); err != nil {
		return nil, err
	}

	// Click outcomes for every awarded slot, in slot order
	clicks := make([]bool, len(alloc.Winners))
	for k, w := range alloc.Winners {
		clicks[k] = bernoulli(a.rng, trueCTRs[w])
	}

	// An agent awarded several slots keeps its first one only
	firstSlots := make(map[int]slotResult, len(alloc.Winners))
	roundRevenue := 0.0
	lowestWinningBid := 0.0
	for k, w := range alloc.Winners {
		if _, seen := firstSlots[w]; seen {
			continue
		}
		firstSlots[w] = slotResult{
			slot:        k,
			price:       alloc.Prices[k],
			secondPrice: alloc.SecondPrices[k],
			click:       clicks[k],
		}
		roundRevenue += alloc.Prices[k]
		if len(firstSlots) == 1 || bids[w] < lowestWinningBid {
			lowestWinningBid = bids[w]
		}
	}
	result = &RoundResult{
		NumSlots:     numSlots,
		Participants: make([]ParticipantResult, len(participants)),
		Revenue:      roundRevenue,
	}

	for i, agent := range participants {
		converted := false
		salesRevenue := 0.0
		pr := ParticipantResult{Agent: agent.Name, Item: items[i], Bid: bids[i], Slot: -1}

		if won, ok := firstSlots[i]; ok {
			if err := agent.Charge(won.price, won.secondPrice, won.click); err != nil {
				return nil, err
			}
			if won.click {
				converted = bernoulli(a.rng, a.cfg.FixedCVR)
				if converted {
					salesRevenue = a.cfg.FixedSalesRevenuePerConversion
				}
			}
			pr.Won, pr.Slot, pr.Price, pr.Click = true, won.slot, won.price, won.click
		} else {
			open, err := agent.openImpression()
			if err != nil {
				return nil, err
			}
			if err := open.SetPriceOutcome(0, 0, false, false); err != nil {
				return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
			}
			if err := open.setWinningBid(lowestWinningBid); err != nil {
				return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
			}
		}

		open, err := agent.openImpression()
		if err != nil {
			return nil, err
		}
		if err := open.SetConversionDetails(converted, salesRevenue); err != nil {
			return nil, fmt.Errorf("agent %s: %w", agent.Name, err)
		}

		pr.Conversion, pr.SalesRevenue = converted, salesRevenue
		result.Participants[i] = pr
	}

	a.revenue += roundRevenue

	if a.observer != nil {
		a.observer.ObserveRound(result)
	}
	return result, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

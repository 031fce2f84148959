package core

// Allocator estimates click probabilities for an agent's catalogue.
type Allocator interface {
	// EstimateCTR returns one probability per catalogue item. When sample is
	// true, sampling-based allocators may return a posterior draw.
	EstimateCTR(context []float64, sample bool) []float64

	// Update trains on won impressions only.
	Update(batch AllocatorBatch, iteration int) error
}

// ThompsonSampler is implemented by allocators whose sampled estimates are
// posterior draws. Agents bid with the MAP estimate when it reports true.
type ThompsonSampler interface {
	ThompsonSampling() bool
}

// ContextOracle is implemented by allocators granted the unmasked context.
type ContextOracle interface {
	UsesTrueContext() bool
}

// Bidder turns a value and CTR estimate into a bid.
type Bidder interface {
	Bid(value float64, context []float64, estimatedCTR float64) float64

	// Update trains on every impression, won or lost.
	Update(batch BidderBatch, iteration int) error
}

// LogClearer is implemented by bidders that keep their own history.
// Agents forward their memory window so both logs stay aligned.
type LogClearer interface {
	ClearLogs(memory int)
}

// AllocationMechanism decides winners, slot order and prices for one round.
type AllocationMechanism interface {
	Allocate(bids []float64, numSlots int) (Allocation, error)
}

// RoundObserver is notified after every fully resolved round.
type RoundObserver interface {
	ObserveRound(result *RoundResult)
}

// Allocation is the result of one mechanism run. Entry k describes slot k.
type Allocation struct {
	// Winners holds indices into the bid vector, best slot first.
	Winners []int

	// Prices holds the clearing price charged for each slot.
	Prices []float64

	// SecondPrices holds the lowest price at which the winner would still
	// have kept the slot.
	SecondPrices []float64
}

// AllocatorBatch is the won-impression training set handed to an Allocator.
type AllocatorBatch struct {
	AgentName string
	Contexts  [][]float64
	Items     []int
	Outcomes  []bool
}

// BidderBatch is the full training set handed to a Bidder. All slices share
// one index.
type BidderBatch struct {
	AgentName     string
	Contexts      [][]float64
	Values        []float64
	Bids          []float64
	Prices        []float64
	Outcomes      []bool
	EstimatedCTRs []float64
	Won           []bool
}

// Len returns the number of impressions in the batch.
func (b BidderBatch) Len() int {
	return len(b.Bids)
}

// ParticipantResult summarises one agent's part in a round.
type ParticipantResult struct {
	Agent        string  `json:"agent"`
	Item         int     `json:"item"`
	Bid          float64 `json:"bid"`
	Won          bool    `json:"won"`
	Slot         int     `json:"slot"` // -1 when the agent lost
	Price        float64 `json:"price"`
	Click        bool    `json:"click"`
	Conversion   bool    `json:"conversion"`
	SalesRevenue float64 `json:"sales_revenue"`
}

// RoundResult contains the outcome of one SimulateOpportunity call.
type RoundResult struct {
	NumSlots     int                 `json:"num_slots"`
	Participants []ParticipantResult `json:"participants"`

	// Revenue is the clearing price collected this round, counting each
	// winning agent once.
	Revenue float64 `json:"revenue"`
}

// Winners returns the participants that were allocated a slot.
func (r *RoundResult) Winners() []ParticipantResult {
	winners := make([]ParticipantResult, 0, r.NumSlots)
	for _, p := range r.Participants {
		if p.Won {
			winners = append(winners, p)
		}
	}
	return winners
}

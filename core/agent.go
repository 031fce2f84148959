package core

import (
	"fmt"
	"math"
	"slices"
)

// Agent is one advertiser: a value catalogue, a CTR allocator, a bidder, its
// running utility and its impression log.
type Agent struct {
	Name string

	itemValues []float64
	allocator  Allocator
	bidder     Bidder
	memory     int

	netUtility   float64
	grossUtility float64

	log *ImpressionLog
}

// NewAgent creates an agent. A memory of 0 keeps the full log between
// ClearLogs calls; otherwise only the last memory records survive.
func NewAgent(name string, itemValues []float64, allocator Allocator, bidder Bidder, memory int) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: agent name is empty", ErrInvalidConfig)
	}
	if len(itemValues) == 0 {
		return nil, fmt.Errorf("%w: agent %s has no items", ErrInvalidConfig, name)
	}
	if allocator == nil || bidder == nil {
		return nil, fmt.Errorf("%w: agent %s needs an allocator and a bidder", ErrInvalidConfig, name)
	}
	if memory < 0 {
		return nil, fmt.Errorf("%w: agent %s has negative memory %d", ErrInvalidConfig, name, memory)
	}

	return &Agent{
		Name:       name,
		itemValues: slices.Clone(itemValues),
		allocator:  allocator,
		bidder:     bidder,
		memory:     memory,
		log:        NewImpressionLog(),
	}, nil
}

func (a *Agent) NumItems() int {
	return len(a.itemValues)
}

func (a *Agent) ItemValues() []float64 {
	return slices.Clone(a.itemValues)
}

func (a *Agent) Allocator() Allocator {
	return a.allocator
}

func (a *Agent) Bidder() Bidder {
	return a.bidder
}

func (a *Agent) Memory() int {
	return a.memory
}

func (a *Agent) NetUtility() float64 {
	return a.netUtility
}

func (a *Agent) GrossUtility() float64 {
	return a.grossUtility
}

// usesTrueContext reports whether the allocator may see the unmasked context.
func (a *Agent) usesTrueContext() bool {
	oracle, ok := a.allocator.(ContextOracle)
	return ok && oracle.UsesTrueContext()
}

// SelectItem picks the catalogue item with the highest estimated value if
// clicked, breaking ties by lowest index. Sampled estimates only drive the
// choice: with Thompson sampling the returned CTR is the MAP estimate.
func (a *Agent) SelectItem(context []float64) (int, float64, error) {
	estimates := a.allocator.EstimateCTR(context, true)
	if len(estimates) != len(a.itemValues) {
		return 0, 0, fmt.Errorf("agent %s: allocator returned %d CTRs for %d items",
			a.Name, len(estimates), len(a.itemValues))
	}

	best := 0
	bestValue := estimates[0] * a.itemValues[0]
	for i := 1; i < len(estimates); i++ {
		if v := estimates[i] * a.itemValues[i]; v > bestValue {
			best, bestValue = i, v
		}
	}

	if ts, ok := a.allocator.(ThompsonSampler); ok && ts.ThompsonSampling() {
		mapEstimates := a.allocator.EstimateCTR(context, false)
		if len(mapEstimates) != len(a.itemValues) {
			return 0, 0, fmt.Errorf("agent %s: allocator returned %d MAP CTRs for %d items",
				a.Name, len(mapEstimates), len(a.itemValues))
		}
		return best, mapEstimates[best], nil
	}
	return best, estimates[best], nil
}

// Bid selects an item, asks the bidder for a bid and appends exactly one new
// record in StageBidded.
func (a *Agent) Bid(context []float64) (float64, int, error) {
	if last := a.log.Last(); last != nil && !last.Resolved() {
		return 0, 0, fmt.Errorf("agent %s: %w (stage %s)", a.Name, ErrOpenImpression, last.Stage())
	}

	item, estimatedCTR, err := a.SelectItem(context)
	if err != nil {
		return 0, 0, err
	}
	value := a.itemValues[item]
	bid := a.bidder.Bid(value, context, estimatedCTR)

	a.log.Append(NewImpressionOpportunity(context, item, value, bid, estimatedCTR))
	return bid, item, nil
}

// agentCheckpoint is the agent state a round may change.
type agentCheckpoint struct {
	logLen       int
	netUtility   float64
	grossUtility float64
}

func (a *Agent) checkpoint() agentCheckpoint {
	return agentCheckpoint{logLen: a.log.Len(), netUtility: a.netUtility, grossUtility: a.grossUtility}
}

// restore drops records appended since cp and resets the utilities to it.
func (a *Agent) restore(cp agentCheckpoint) {
	for a.log.Len() > cp.logLen {
		a.log.DropLast()
	}
	a.netUtility = cp.netUtility
	a.grossUtility = cp.grossUtility
}

// openImpression returns the last record if it is still being resolved.
func (a *Agent) openImpression() (*ImpressionOpportunity, error) {
	last := a.log.Last()
	if last == nil || last.Resolved() {
		return nil, fmt.Errorf("agent %s: %w", a.Name, ErrNoOpenImpression)
	}
	return last, nil
}

// Charge finalizes the open record as a win and accumulates utility from it.
func (a *Agent) Charge(price, secondPrice float64, outcome bool) error {
	open, err := a.openImpression()
	if err != nil {
		return fmt.Errorf("charge: %w", err)
	}
	if err := open.SetPriceOutcome(price, secondPrice, outcome, true); err != nil {
		return fmt.Errorf("agent %s: charge: %w", a.Name, err)
	}

	lastValue := 0.0
	if outcome {
		lastValue = open.rec.Value
	}
	a.netUtility += lastValue - price
	a.grossUtility += lastValue
	return nil
}

// SetPrice overwrites the price on the most recent record.
func (a *Agent) SetPrice(price float64) error {
	last := a.log.Last()
	if last == nil {
		return fmt.Errorf("agent %s: set price: %w", a.Name, ErrNoOpenImpression)
	}
	if err := last.SetPrice(price); err != nil {
		return fmt.Errorf("agent %s: %w", a.Name, err)
	}
	return nil
}

// Update hands the logged impressions to the learning components: won ones to
// the allocator, all of them to the bidder.
func (a *Agent) Update(iteration int) error {
	n := a.log.Len()
	bidderBatch := BidderBatch{
		AgentName:     a.Name,
		Contexts:      make([][]float64, 0, n),
		Values:        make([]float64, 0, n),
		Bids:          make([]float64, 0, n),
		Prices:        make([]float64, 0, n),
		Outcomes:      make([]bool, 0, n),
		EstimatedCTRs: make([]float64, 0, n),
		Won:           make([]bool, 0, n),
	}
	allocatorBatch := AllocatorBatch{AgentName: a.Name}

	for i := 0; i < n; i++ {
		o := a.log.At(i)
		if !o.Resolved() {
			return fmt.Errorf("agent %s: update: record %d is %s: %w", a.Name, i, o.Stage(), ErrStage)
		}
		rec := o.rec
		bidderBatch.Contexts = append(bidderBatch.Contexts, rec.Context)
		bidderBatch.Values = append(bidderBatch.Values, rec.Value)
		bidderBatch.Bids = append(bidderBatch.Bids, rec.Bid)
		bidderBatch.Prices = append(bidderBatch.Prices, rec.Price)
		bidderBatch.Outcomes = append(bidderBatch.Outcomes, rec.Outcome)
		bidderBatch.EstimatedCTRs = append(bidderBatch.EstimatedCTRs, rec.EstimatedCTR)
		bidderBatch.Won = append(bidderBatch.Won, rec.Won)

		if rec.Won {
			allocatorBatch.Contexts = append(allocatorBatch.Contexts, rec.Context)
			allocatorBatch.Items = append(allocatorBatch.Items, rec.Item)
			allocatorBatch.Outcomes = append(allocatorBatch.Outcomes, rec.Outcome)
		}
	}

	if err := a.allocator.Update(allocatorBatch, iteration); err != nil {
		return fmt.Errorf("agent %s: allocator update: %w", a.Name, err)
	}
	if err := a.bidder.Update(bidderBatch, iteration); err != nil {
		return fmt.Errorf("agent %s: bidder update: %w", a.Name, err)
	}
	return nil
}

// sum reduces f over every logged record.
func (a *Agent) sum(f func(r *ImpressionRecord) float64) float64 {
	total := 0.0
	for i := 0; i < a.log.Len(); i++ {
		total += f(&a.log.At(i).rec)
	}
	return total
}

// AllocationRegret is the value lost to choosing a suboptimal item.
func (a *Agent) AllocationRegret() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		return r.BestExpectedValue - r.TrueCTR*r.Value
	})
}

// EstimationRegret is the signed value misjudged through CTR estimation error.
func (a *Agent) EstimationRegret() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		return r.EstimatedCTR*r.Value - r.TrueCTR*r.Value
	})
}

// OverbidRegret is what wins could have been shaded by without losing the slot.
func (a *Agent) OverbidRegret() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		if !r.Won {
			return 0
		}
		return r.Price - r.SecondPrice
	})
}

// UnderbidRegret sums price - bid over losses whose recorded price was below
// the true expected value. Losses record a price of 0, so every loss with a
// positive true value contributes -bid.
func (a *Agent) UnderbidRegret() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		if r.Won || r.Price >= r.TrueCTR*r.Value {
			return 0
		}
		return r.Price - r.Bid
	})
}

// WinningBidShortfall sums, over losses that were profitable to win, how far
// the bid fell short of the round's lowest winning bid. Rounds with no winner
// are skipped.
func (a *Agent) WinningBidShortfall() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		if r.Won || r.WinningBid <= 0 || r.WinningBid >= r.TrueCTR*r.Value {
			return 0
		}
		return r.WinningBid - r.Bid
	})
}

// CTRRMSE is the root mean squared CTR estimation error over the whole log.
func (a *Agent) CTRRMSE() float64 {
	n := a.log.Len()
	if n == 0 {
		return 0
	}
	sq := a.sum(func(r *ImpressionRecord) float64 {
		d := r.TrueCTR - r.EstimatedCTR
		return d * d
	})
	return math.Sqrt(sq / float64(n))
}

// CTRBias is the mean ratio of estimated to true CTR over won impressions.
// Zero when nothing was won.
func (a *Agent) CTRBias() float64 {
	won := 0
	total := 0.0
	for i := 0; i < a.log.Len(); i++ {
		r := &a.log.At(i).rec
		if !r.Won {
			continue
		}
		won++
		total += r.EstimatedCTR / r.TrueCTR
	}
	if won == 0 {
		return 0
	}
	return total / float64(won)
}

func (a *Agent) TotalClicks() int {
	return int(a.sum(func(r *ImpressionRecord) float64 {
		if r.Won && r.Outcome {
			return 1
		}
		return 0
	}))
}

func (a *Agent) TotalConversions() int {
	return int(a.sum(func(r *ImpressionRecord) float64 {
		if r.Won && r.Conversion {
			return 1
		}
		return 0
	}))
}

func (a *Agent) TotalSalesRevenue() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		if r.Won && r.Conversion {
			return r.SalesRevenue
		}
		return 0
	})
}

func (a *Agent) TotalSpend() float64 {
	return a.sum(func(r *ImpressionRecord) float64 {
		if r.Won {
			return r.Price
		}
		return 0
	})
}

// CVR is conversions per click, or 0 without clicks.
func (a *Agent) CVR() float64 {
	clicks := a.TotalClicks()
	if clicks == 0 {
		return 0
	}
	return float64(a.TotalConversions()) / float64(clicks)
}

// ACoS is spend per unit of sales revenue. With no revenue it is 0 if nothing
// was spent and +Inf otherwise.
func (a *Agent) ACoS() float64 {
	spend := a.TotalSpend()
	revenue := a.TotalSalesRevenue()
	if revenue == 0 {
		if spend == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return spend / revenue
}

// ClearUtility zeroes both utility accumulators. The log is untouched.
func (a *Agent) ClearUtility() {
	a.netUtility = 0
	a.grossUtility = 0
}

// ClearLogs trims the log to the memory window and forwards the same window
// to the bidder's own log.
func (a *Agent) ClearLogs() {
	a.log.Trim(a.memory)
	if lc, ok := a.bidder.(LogClearer); ok {
		lc.ClearLogs(a.memory)
	}
}

func (a *Agent) NumImpressions() int {
	return a.log.Len()
}

// Impressions returns copies of every logged record, oldest first.
func (a *Agent) Impressions() []ImpressionRecord {
	all := a.log.All()
	out := make([]ImpressionRecord, len(all))
	for i, o := range all {
		out[i] = o.Record()
	}
	return out
}

// LastImpression returns the most recent record and whether it is fully
// resolved. It fails on an empty log.
func (a *Agent) LastImpression() (ImpressionRecord, bool, error) {
	last := a.log.Last()
	if last == nil {
		return ImpressionRecord{}, false, fmt.Errorf("agent %s: empty impression log", a.Name)
	}
	return last.Record(), last.Resolved(), nil
}

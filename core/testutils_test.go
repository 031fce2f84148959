package core

import (
	"testing"
)

// mockRandSource provides a deterministic random source for testing.
// Intn replays sequence (modulo n), Float64 replays floats, NormFloat64 replays normals;
// an exhausted sequence yields zero.
type mockRandSource struct {
	sequence []int
	index    int

	floats     []float64
	floatIndex int

	normals     []float64
	normalIndex int
}

func (m *mockRandSource) Intn(n int) int {
	if m.index >= len(m.sequence) {
		return 0
	}
	val := m.sequence[m.index] % n
	m.index++
	return val
}

func (m *mockRandSource) Float64() float64 {
	if m.floatIndex >= len(m.floats) {
		return 0
	}
	val := m.floats[m.floatIndex]
	m.floatIndex++
	return val
}

func (m *mockRandSource) NormFloat64() float64 {
	if m.normalIndex >= len(m.normals) {
		return 0
	}
	val := m.normals[m.normalIndex]
	m.normalIndex++
	return val
}

// fixedAllocator returns the same CTR vector for every context.
type fixedAllocator struct {
	ctrs     []float64
	mapCTRs  []float64 // returned when sample=false, if set
	thompson bool
	oracle   bool

	lastContext []float64
	updates     []AllocatorBatch
}

func (f *fixedAllocator) EstimateCTR(context []float64, sample bool) []float64 {
	f.lastContext = context
	if !sample && f.mapCTRs != nil {
		return f.mapCTRs
	}
	return f.ctrs
}

func (f *fixedAllocator) Update(batch AllocatorBatch, _ int) error {
	f.updates = append(f.updates, batch)
	return nil
}

func (f *fixedAllocator) ThompsonSampling() bool { return f.thompson }

func (f *fixedAllocator) UsesTrueContext() bool { return f.oracle }

// valueBidder bids value * estimatedCTR * factor, or a fixed amount when fixed is set.
type valueBidder struct {
	factor float64
	fixed  *float64

	updates      []BidderBatch
	clearedWith  []int
	lastEstimate float64
}

func (v *valueBidder) Bid(value float64, _ []float64, estimatedCTR float64) float64 {
	v.lastEstimate = estimatedCTR
	if v.fixed != nil {
		return *v.fixed
	}
	factor := v.factor
	if factor == 0 {
		factor = 1
	}
	return value * estimatedCTR * factor
}

func (v *valueBidder) Update(batch BidderBatch, _ int) error {
	v.updates = append(v.updates, batch)
	return nil
}

func (v *valueBidder) ClearLogs(memory int) {
	v.clearedWith = append(v.clearedWith, memory)
}

func fixedBid(b float64) *float64 { return &b }

// scriptedMechanism returns a canned allocation and records its inputs.
type scriptedMechanism struct {
	alloc    Allocation
	err      error
	gotBids  []float64
	gotSlots int
}

func (s *scriptedMechanism) Allocate(bids []float64, numSlots int) (Allocation, error) {
	s.gotBids = append([]float64(nil), bids...)
	s.gotSlots = numSlots
	return s.alloc, s.err
}

// newTestAgent builds an agent with a fixed allocator and value bidder.
func newTestAgent(t *testing.T, name string, values, ctrs []float64, memory int) (*Agent, *fixedAllocator, *valueBidder) {
	t.Helper()
	allocator := &fixedAllocator{ctrs: ctrs}
	bidder := &valueBidder{}
	agent, err := NewAgent(name, values, allocator, bidder, memory)
	if err != nil {
		t.Fatalf("NewAgent(%s): %v", name, err)
	}
	return agent, allocator, bidder
}

// resolveWin pushes the agent's open record through a win.
func resolveWin(t *testing.T, a *Agent, best, trueCTR, price, secondPrice float64, click, converted bool, revenue float64) {
	t.Helper()
	open, err := a.openImpression()
	if err != nil {
		t.Fatalf("openImpression: %v", err)
	}
	if err := open.SetTrueCTR(best, trueCTR); err != nil {
		t.Fatalf("SetTrueCTR: %v", err)
	}
	if err := a.Charge(price, secondPrice, click); err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if err := open.SetConversionDetails(converted, revenue); err != nil {
		t.Fatalf("SetConversionDetails: %v", err)
	}
}

// resolveLoss pushes the agent's open record through a loss.
func resolveLoss(t *testing.T, a *Agent, best, trueCTR, winningBid float64) {
	t.Helper()
	open, err := a.openImpression()
	if err != nil {
		t.Fatalf("openImpression: %v", err)
	}
	if err := open.SetTrueCTR(best, trueCTR); err != nil {
		t.Fatalf("SetTrueCTR: %v", err)
	}
	if err := open.SetPriceOutcome(0, 0, false, false); err != nil {
		t.Fatalf("SetPriceOutcome: %v", err)
	}
	if err := open.setWinningBid(winningBid); err != nil {
		t.Fatalf("setWinningBid: %v", err)
	}
	if err := open.SetConversionDetails(false, 0); err != nil {
		t.Fatalf("SetConversionDetails: %v", err)
	}
}

// zeroEmbeddings returns numItems rows of width dim+1 with the bias weight set
// to logit, so the true CTR of every item is sigmoid(logit) in any context.
func zeroEmbeddings(numItems, dim int, logit float64) [][]float64 {
	rows := make([][]float64, numItems)
	for i := range rows {
		rows[i] = make([]float64, dim+1)
		rows[i][dim] = logit
	}
	return rows
}

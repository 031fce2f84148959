package core

import (
	"fmt"
	"sort"
)

// RankBids returns the indices of bids meeting the reserve, highest bid first.
// Equal bids are shuffled with randSource (Fisher-Yates over each tied group);
// a nil randSource keeps them in input order.
func RankBids(bids []float64, reserve float64, randSource RandSource) []int {
	ranked, _ := EnforceReserve(bids, reserve)
	if len(ranked) == 0 {
		return ranked
	}

	// Sort by price descending; the stable sort keeps first-index order on ties
	sort.SliceStable(ranked, func(i, j int) bool {
		return bids[ranked[i]] > bids[ranked[j]]
	})

	if randSource == nil {
		return ranked
	}

	// Break ties randomly: shuffle groups of bids with the same price using Fisher-Yates
	i := 0
	for i < len(ranked) {
		// Find the range of entries with the same price
		price := bids[ranked[i]]
		j := i + 1
		for j < len(ranked) && bids[ranked[j]] == price {
			j++
		}

		// If there are ties (j-i > 1), shuffle this group
		if j-i > 1 {
			for k := j - 1; k > i; k-- {
				// Pick a random index from i to k (inclusive)
				randIdx := i + randSource.Intn(k-i+1)
				ranked[k], ranked[randIdx] = ranked[randIdx], ranked[k]
			}
		}

		i = j
	}

	return ranked
}

// nextPrice returns the bid ranked right below position k, or the reserve when
// nobody is left.
func nextPrice(bids []float64, ranked []int, k int, reserve float64) float64 {
	if k+1 < len(ranked) {
		return bids[ranked[k+1]]
	}
	return reserve
}

func checkSlots(numSlots int) error {
	if numSlots <= 0 {
		return fmt.Errorf("%w: num_slots must be positive, got %d", ErrInvalidConfig, numSlots)
	}
	return nil
}

// FirstPrice awards the top bids and charges each winner its own bid. The
// second price is the bid ranked directly below.
type FirstPrice struct {
	Reserve float64
	rand    RandSource
}

// NewFirstPrice creates a first-price mechanism. randSource breaks ties and may be nil.
func NewFirstPrice(reserve float64, randSource RandSource) *FirstPrice {
	return &FirstPrice{Reserve: reserve, rand: randSource}
}

func (m *FirstPrice) Allocate(bids []float64, numSlots int) (Allocation, error) {
	if err := checkSlots(numSlots); err != nil {
		return Allocation{}, err
	}
	ranked := RankBids(bids, m.Reserve, m.rand)
	n := min(numSlots, len(ranked))

	alloc := Allocation{
		Winners:      make([]int, n),
		Prices:       make([]float64, n),
		SecondPrices: make([]float64, n),
	}
	for k := 0; k < n; k++ {
		alloc.Winners[k] = ranked[k]
		alloc.Prices[k] = bids[ranked[k]]
		alloc.SecondPrices[k] = nextPrice(bids, ranked, k, m.Reserve)
	}
	return alloc, nil
}

// SecondPrice is a generalized second-price mechanism: the winner of slot k
// pays the bid ranked k+1, or the reserve when nobody is left.
type SecondPrice struct {
	Reserve float64
	rand    RandSource
}

// NewSecondPrice creates a generalized second-price mechanism. randSource breaks ties and may be nil.
func NewSecondPrice(reserve float64, randSource RandSource) *SecondPrice {
	return &SecondPrice{Reserve: reserve, rand: randSource}
}

func (m *SecondPrice) Allocate(bids []float64, numSlots int) (Allocation, error) {
	if err := checkSlots(numSlots); err != nil {
		return Allocation{}, err
	}
	ranked := RankBids(bids, m.Reserve, m.rand)
	n := min(numSlots, len(ranked))

	alloc := Allocation{
		Winners:      make([]int, n),
		Prices:       make([]float64, n),
		SecondPrices: make([]float64, n),
	}
	for k := 0; k < n; k++ {
		price := nextPrice(bids, ranked, k, m.Reserve)
		alloc.Winners[k] = ranked[k]
		alloc.Prices[k] = price
		alloc.SecondPrices[k] = price
	}
	return alloc, nil
}

// validateAllocation enforces the mechanism contract against the round it was
// computed for.
func validateAllocation(alloc Allocation, numBids, numSlots int) error {
	if len(alloc.Prices) != len(alloc.Winners) || len(alloc.SecondPrices) != len(alloc.Winners) {
		return fmt.Errorf("%w: %d winners, %d prices, %d second prices",
			ErrAllocationContract, len(alloc.Winners), len(alloc.Prices), len(alloc.SecondPrices))
	}
	if len(alloc.Winners) > numSlots {
		return fmt.Errorf("%w: %d winners for %d slots", ErrAllocationContract, len(alloc.Winners), numSlots)
	}
	for k, w := range alloc.Winners {
		if w < 0 || w >= numBids {
			return fmt.Errorf("%w: slot %d awarded to index %d outside %d participants",
				ErrAllocationContract, k, w, numBids)
		}
	}
	return nil
}

package core

import (
	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 4 // 4 decimal places for prices (0.0001 precision)

// BidMeetsFloor reports whether bid is at least reserve once both are
// rounded to monetaryPrecision decimal places.
func BidMeetsFloor(bid, reserve float64) bool {
	b := decimal.NewFromFloat(bid).Round(monetaryPrecision)
	r := decimal.NewFromFloat(reserve).Round(monetaryPrecision)
	return b.GreaterThanOrEqual(r)
}

// EnforceReserve splits bid indices into those meeting the reserve and those
// rejected. A reserve of 0 admits every non-negative bid. Input order is kept.
func EnforceReserve(bids []float64, reserve float64) (eligible, rejected []int) {
	eligible = make([]int, 0, len(bids))
	rejected = make([]int, 0)

	for i, bid := range bids {
		if BidMeetsFloor(bid, reserve) {
			eligible = append(eligible, i)
		} else {
			rejected = append(rejected, i)
		}
	}

	return eligible, rejected
}

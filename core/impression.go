package core

import (
	"fmt"
	"slices"
)

// ImpressionStage tracks how far a record has been resolved.
type ImpressionStage uint8

const (
	// StageBidded: bid-time fields set, everything else zeroed.
	StageBidded ImpressionStage = iota
	// StageScored: true CTR and best expected value recorded.
	StageScored
	// StagePriced: win/loss, price and click recorded.
	StagePriced
	// StageResolved: conversion recorded; the record is final.
	StageResolved
)

func (s ImpressionStage) String() string {
	switch s {
	case StageBidded:
		return "bidded"
	case StageScored:
		return "scored"
	case StagePriced:
		return "priced"
	case StageResolved:
		return "resolved"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// ImpressionRecord is a read-only copy of one agent's participation in one round.
type ImpressionRecord struct {
	Context           []float64
	Item              int
	Value             float64
	Bid               float64
	EstimatedCTR      float64
	TrueCTR           float64
	BestExpectedValue float64
	Price             float64
	SecondPrice       float64
	// WinningBid is the lowest winning bid of the round, recorded on losses
	// only. Zero when no slot was awarded.
	WinningBid   float64
	Outcome      bool
	Won          bool
	Conversion   bool
	SalesRevenue float64
}

// ImpressionOpportunity is the mutable record behind an ImpressionRecord.
// Each setter moves it exactly one stage forward.
type ImpressionOpportunity struct {
	rec   ImpressionRecord
	stage ImpressionStage
}

// NewImpressionOpportunity creates a record in StageBidded.
func NewImpressionOpportunity(context []float64, item int, value, bid, estimatedCTR float64) *ImpressionOpportunity {
	return &ImpressionOpportunity{
		rec: ImpressionRecord{
			Context:      context,
			Item:         item,
			Value:        value,
			Bid:          bid,
			EstimatedCTR: estimatedCTR,
		},
		stage: StageBidded,
	}
}

func (o *ImpressionOpportunity) Stage() ImpressionStage {
	return o.stage
}

// Resolved reports whether every stage has been applied.
func (o *ImpressionOpportunity) Resolved() bool {
	return o.stage == StageResolved
}

// Record returns a copy of the record. The context slice is cloned.
func (o *ImpressionOpportunity) Record() ImpressionRecord {
	rec := o.rec
	rec.Context = slices.Clone(o.rec.Context)
	return rec
}

func (o *ImpressionOpportunity) advance(from ImpressionStage) error {
	if o.stage != from {
		return fmt.Errorf("%w: expected %s, record is %s", ErrStage, from, o.stage)
	}
	o.stage++
	return nil
}

// SetTrueCTR records the ground-truth CTR of the chosen item and the best
// expected value over the agent's catalogue.
func (o *ImpressionOpportunity) SetTrueCTR(bestExpectedValue, trueCTR float64) error {
	if err := o.advance(StageBidded); err != nil {
		return fmt.Errorf("set true CTR: %w", err)
	}
	o.rec.BestExpectedValue = bestExpectedValue
	o.rec.TrueCTR = trueCTR
	return nil
}

// SetPriceOutcome records the allocation outcome. Losses must be zeroed.
func (o *ImpressionOpportunity) SetPriceOutcome(price, secondPrice float64, outcome, won bool) error {
	if !won && (price != 0 || secondPrice != 0 || outcome) {
		return fmt.Errorf("set price outcome: %w: loss with price=%.6f second_price=%.6f outcome=%t",
			ErrInvariant, price, secondPrice, outcome)
	}
	if err := o.advance(StageScored); err != nil {
		return fmt.Errorf("set price outcome: %w", err)
	}
	o.rec.Price = price
	o.rec.SecondPrice = secondPrice
	o.rec.Outcome = outcome
	o.rec.Won = won
	return nil
}

// setWinningBid attaches the round's lowest winning bid to a priced loss.
func (o *ImpressionOpportunity) setWinningBid(bid float64) error {
	if o.stage != StagePriced || o.rec.Won {
		return fmt.Errorf("set winning bid: %w: record is %s, won=%t", ErrStage, o.stage, o.rec.Won)
	}
	o.rec.WinningBid = bid
	return nil
}

// SetConversionDetails finalizes the record. Anything but a winning click is
// stored as (false, 0).
func (o *ImpressionOpportunity) SetConversionDetails(converted bool, revenue float64) error {
	if err := o.advance(StagePriced); err != nil {
		return fmt.Errorf("set conversion details: %w", err)
	}
	if !o.rec.Won || !o.rec.Outcome || !converted {
		converted, revenue = false, 0
	}
	o.rec.Conversion = converted
	o.rec.SalesRevenue = revenue
	return nil
}

// SetPrice overwrites the price of a priced record without touching outcome
// fields.
func (o *ImpressionOpportunity) SetPrice(price float64) error {
	if o.stage < StagePriced {
		return fmt.Errorf("set price: %w: record is %s", ErrStage, o.stage)
	}
	if !o.rec.Won && price != 0 {
		return fmt.Errorf("set price: %w: loss with price=%.6f", ErrInvariant, price)
	}
	o.rec.Price = price
	return nil
}

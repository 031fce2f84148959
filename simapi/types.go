package simapi

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dimdimlv/mt-project/core"
)

// ImpressionEvent is one resolved record as emitted to an event stream. Hash
// fingerprints the record so a stream can be checked against a run digest.
type ImpressionEvent struct {
	RunID     string `json:"run_id" cbor:"run_id"`
	Iteration int    `json:"iteration" cbor:"iteration"`
	Round     int    `json:"round" cbor:"round"`
	Agent     string `json:"agent" cbor:"agent"`

	Context           []float64 `json:"context" cbor:"context"`
	Item              int       `json:"item" cbor:"item"`
	Value             float64   `json:"value" cbor:"value"`
	Bid               float64   `json:"bid" cbor:"bid"`
	EstimatedCTR      float64   `json:"estimated_ctr" cbor:"estimated_ctr"`
	TrueCTR           float64   `json:"true_ctr" cbor:"true_ctr"`
	BestExpectedValue float64   `json:"best_expected_value" cbor:"best_expected_value"`
	Price             float64   `json:"price" cbor:"price"`
	SecondPrice       float64   `json:"second_price" cbor:"second_price"`
	WinningBid        float64   `json:"winning_bid" cbor:"winning_bid"`
	Outcome           bool      `json:"outcome" cbor:"outcome"`
	Won               bool      `json:"won" cbor:"won"`
	Conversion        bool      `json:"conversion" cbor:"conversion"`
	SalesRevenue      float64   `json:"sales_revenue" cbor:"sales_revenue"`

	Hash string `json:"hash" cbor:"hash"`
}

// NewImpressionEvent wraps a resolved record and fingerprints it.
func NewImpressionEvent(runID string, iteration, round int, agent string, rec core.ImpressionRecord) ImpressionEvent {
	return ImpressionEvent{
		RunID:             runID,
		Iteration:         iteration,
		Round:             round,
		Agent:             agent,
		Context:           rec.Context,
		Item:              rec.Item,
		Value:             rec.Value,
		Bid:               rec.Bid,
		EstimatedCTR:      rec.EstimatedCTR,
		TrueCTR:           rec.TrueCTR,
		BestExpectedValue: rec.BestExpectedValue,
		Price:             rec.Price,
		SecondPrice:       rec.SecondPrice,
		WinningBid:        rec.WinningBid,
		Outcome:           rec.Outcome,
		Won:               rec.Won,
		Conversion:        rec.Conversion,
		SalesRevenue:      rec.SalesRevenue,
		Hash:              core.ComputeImpressionHash(agent, round, rec),
	}
}

// Record converts the event back into the record it was built from.
func (e ImpressionEvent) Record() core.ImpressionRecord {
	return core.ImpressionRecord{
		Context:           e.Context,
		Item:              e.Item,
		Value:             e.Value,
		Bid:               e.Bid,
		EstimatedCTR:      e.EstimatedCTR,
		TrueCTR:           e.TrueCTR,
		BestExpectedValue: e.BestExpectedValue,
		Price:             e.Price,
		SecondPrice:       e.SecondPrice,
		WinningBid:        e.WinningBid,
		Outcome:           e.Outcome,
		Won:               e.Won,
		Conversion:        e.Conversion,
		SalesRevenue:      e.SalesRevenue,
	}
}

// VerifyHash recomputes the fingerprint from the event's fields.
func (e ImpressionEvent) VerifyHash() bool {
	return core.ComputeImpressionHash(e.Agent, e.Round, e.Record()) == e.Hash
}

// Ratio is a float64 that survives JSON when it is infinite or NaN. Those
// values are written as the strings "+Inf", "-Inf" and "NaN".
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "+Inf", "Inf":
			*r = Ratio(math.Inf(1))
		case "-Inf":
			*r = Ratio(math.Inf(-1))
		case "NaN":
			*r = Ratio(math.NaN())
		default:
			return fmt.Errorf("invalid ratio %q", s)
		}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid ratio: %w", err)
	}
	*r = Ratio(f)
	return nil
}

// AgentSummary captures an agent's utilities and metrics at an iteration boundary.
// WinningBidShortfall measures losses against the round's lowest winning bid
// rather than the recorded price.
type AgentSummary struct {
	Name                string  `json:"name" cbor:"name"`
	Impressions         int     `json:"impressions" cbor:"impressions"`
	NetUtility          float64 `json:"net_utility" cbor:"net_utility"`
	GrossUtility        float64 `json:"gross_utility" cbor:"gross_utility"`
	AllocationRegret    float64 `json:"allocation_regret" cbor:"allocation_regret"`
	EstimationRegret    float64 `json:"estimation_regret" cbor:"estimation_regret"`
	OverbidRegret       float64 `json:"overbid_regret" cbor:"overbid_regret"`
	UnderbidRegret      float64 `json:"underbid_regret" cbor:"underbid_regret"`
	WinningBidShortfall float64 `json:"winning_bid_shortfall" cbor:"winning_bid_shortfall"`
	CTRRMSE             float64 `json:"ctr_rmse" cbor:"ctr_rmse"`
	CTRBias             float64 `json:"ctr_bias" cbor:"ctr_bias"`
	Clicks              int     `json:"clicks" cbor:"clicks"`
	Conversions         int     `json:"conversions" cbor:"conversions"`
	SalesRevenue        float64 `json:"sales_revenue" cbor:"sales_revenue"`
	Spend               float64 `json:"spend" cbor:"spend"`
	CVR                 float64 `json:"cvr" cbor:"cvr"`
	ACoS                Ratio   `json:"acos" cbor:"acos"`
}

// SummarizeAgent reads every metric off the agent's current log.
func SummarizeAgent(a *core.Agent) AgentSummary {
	return AgentSummary{
		Name:                a.Name,
		Impressions:         a.NumImpressions(),
		NetUtility:          a.NetUtility(),
		GrossUtility:        a.GrossUtility(),
		AllocationRegret:    a.AllocationRegret(),
		EstimationRegret:    a.EstimationRegret(),
		OverbidRegret:       a.OverbidRegret(),
		UnderbidRegret:      a.UnderbidRegret(),
		WinningBidShortfall: a.WinningBidShortfall(),
		CTRRMSE:             a.CTRRMSE(),
		CTRBias:             a.CTRBias(),
		Clicks:              a.TotalClicks(),
		Conversions:         a.TotalConversions(),
		SalesRevenue:        a.TotalSalesRevenue(),
		Spend:               a.TotalSpend(),
		CVR:                 a.CVR(),
		ACoS:                Ratio(a.ACoS()),
	}
}

// IterationReport is the state of the run at the end of one iteration, taken
// before agents learn and accumulators are cleared.
type IterationReport struct {
	Iteration int            `json:"iteration" cbor:"iteration"`
	Rounds    int            `json:"rounds" cbor:"rounds"`
	Revenue   float64        `json:"revenue" cbor:"revenue"`
	Agents    []AgentSummary `json:"agents" cbor:"agents"`
	Digest    string         `json:"digest" cbor:"digest"`
}

// RunSummary is the signed outcome of a run. Digest chains every impression
// hash in emission order starting from SeedDigest, so two runs with the same
// configuration and seed share it.
type RunSummary struct {
	Type               string            `json:"type" cbor:"type"`
	RunID              string            `json:"run_id" cbor:"run_id"`
	Seed               uint64            `json:"seed" cbor:"seed"`
	SeedDigest         string            `json:"seed_digest" cbor:"seed_digest"`
	Mechanism          string            `json:"mechanism" cbor:"mechanism"`
	Iterations         int               `json:"iterations" cbor:"iterations"`
	RoundsPerIteration int               `json:"rounds_per_iteration" cbor:"rounds_per_iteration"`
	Reports            []IterationReport `json:"reports" cbor:"reports"`
	TotalRevenue       float64           `json:"total_revenue" cbor:"total_revenue"`
	Impressions        int               `json:"impressions" cbor:"impressions"`
	Digest             string            `json:"digest" cbor:"digest"`
	StartedAt          time.Time         `json:"started_at" cbor:"started_at"`
	FinishedAt         time.Time         `json:"finished_at" cbor:"finished_at"`
}

// RunSummaryType tags summaries so a verifier can reject foreign payloads.
const RunSummaryType = "adsim_run_summary"

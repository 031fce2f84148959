package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dimdimlv/mt-project/core"
)

const namespace = "adsim"

// Collector turns round results into Prometheus series labelled by agent.
// It satisfies core.RoundObserver.
type Collector struct {
	Rounds         prometheus.Counter
	AuctionRevenue prometheus.Counter
	ClearingPrice  prometheus.Histogram
	Iteration      prometheus.Gauge

	Impressions  *prometheus.CounterVec
	Wins         *prometheus.CounterVec
	Clicks       *prometheus.CounterVec
	Conversions  *prometheus.CounterVec
	Spend        *prometheus.CounterVec
	SalesRevenue *prometheus.CounterVec
	NetUtility   *prometheus.GaugeVec
}

var _ core.RoundObserver = (*Collector)(nil)

// NewCollector builds the collector and registers every series with reg.
// Registration panics on duplicates, like prometheus.MustRegister.
func NewCollector(reg prometheus.Registerer) *Collector {
	agentLabel := []string{"agent"}

	c := &Collector{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Total number of simulated auction rounds",
		}),
		AuctionRevenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_revenue_total",
			Help:      "Clearing prices collected by the auctioneer",
		}),
		ClearingPrice: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clearing_price",
			Help:      "Clearing price charged per won slot",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Iteration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration",
			Help:      "Index of the iteration currently being simulated",
		}),
		Impressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impressions_total",
			Help:      "Auction participations by agent",
		}, agentLabel),
		Wins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wins_total",
			Help:      "Slots won by agent",
		}, agentLabel),
		Clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Clicks on won slots by agent",
		}, agentLabel),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Conversions following a click by agent",
		}, agentLabel),
		Spend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spend_total",
			Help:      "Prices paid by agent",
		}, agentLabel),
		SalesRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_revenue_total",
			Help:      "Sales revenue from conversions by agent",
		}, agentLabel),
		NetUtility: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "net_utility",
			Help:      "Net utility accumulated by agent in the current iteration",
		}, agentLabel),
	}

	reg.MustRegister(
		c.Rounds,
		c.AuctionRevenue,
		c.ClearingPrice,
		c.Iteration,
		c.Impressions,
		c.Wins,
		c.Clicks,
		c.Conversions,
		c.Spend,
		c.SalesRevenue,
		c.NetUtility,
	)
	return c
}

// ObserveRound records one resolved round.
func (c *Collector) ObserveRound(result *core.RoundResult) {
	if result == nil {
		return
	}

	c.Rounds.Inc()
	c.AuctionRevenue.Add(result.Revenue)

	for _, p := range result.Participants {
		c.Impressions.WithLabelValues(p.Agent).Inc()
		if !p.Won {
			continue
		}
		c.Wins.WithLabelValues(p.Agent).Inc()
		c.Spend.WithLabelValues(p.Agent).Add(p.Price)
		c.ClearingPrice.Observe(p.Price)
		if p.Click {
			c.Clicks.WithLabelValues(p.Agent).Inc()
		}
		if p.Conversion {
			c.Conversions.WithLabelValues(p.Agent).Inc()
			c.SalesRevenue.WithLabelValues(p.Agent).Add(p.SalesRevenue)
		}
	}
}

// ObserveIteration publishes per-agent utilities at an iteration boundary.
func (c *Collector) ObserveIteration(iteration int, agents []*core.Agent) {
	c.Iteration.Set(float64(iteration))
	for _, a := range agents {
		c.NetUtility.WithLabelValues(a.Name).Set(a.NetUtility())
	}
}

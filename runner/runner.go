// Package runner builds a simulation from a config and drives it through its
// iterations.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dimdimlv/mt-project/config"
	"github.com/dimdimlv/mt-project/core"
	"github.com/dimdimlv/mt-project/metrics"
	"github.com/dimdimlv/mt-project/simapi"
)

// EventSink receives every resolved impression in emission order.
type EventSink interface {
	WriteEvent(simapi.ImpressionEvent) error
}

// Option customises a Runner.
type Option func(*Runner)

// WithEventSink streams impression events to sink.
func WithEventSink(sink EventSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithCollector publishes round and iteration metrics to c.
func WithCollector(c *metrics.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithRunID fixes the run ID instead of generating a random UUID.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithClock replaces time.Now for the summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner owns one fully built simulation.
type Runner struct {
	cfg       *config.Config
	runID     string
	auction   *core.Auction
	agents    []*core.Agent
	byName    map[string]*core.Agent
	sink      EventSink
	collector *metrics.Collector
	now       func() time.Time
}

// New validates cfg and builds catalogues, strategies, the mechanism and the
// auction. All randomness derives from cfg.Seed, split in a fixed order:
// catalogues, tie-breaking, one stream per agent strategy, then the auction.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", core.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:    cfg,
		byName: make(map[string]*core.Agent, len(cfg.Agents)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}

	root := core.NewRand(cfg.Seed)
	catalogueRand := root.Split()
	tieRand := root.Split()

	catalogues := make(map[string]core.Catalogue, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		cat := buildCatalogue(catalogueRand, cfg.Auction, agentCfg)

		allocator, err := buildAllocator(agentCfg, cat, cfg.Auction, root.Split())
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agentCfg.Name, err)
		}
		bidder, err := buildBidder(agentCfg, cfg.ShadingFactors)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", agentCfg.Name, err)
		}

		agent, err := core.NewAgent(agentCfg.Name, cat.Values, allocator, bidder, agentCfg.Memory)
		if err != nil {
			return nil, err
		}
		r.agents = append(r.agents, agent)
		r.byName[agent.Name] = agent
		catalogues[agent.Name] = cat
	}

	mechanism, err := buildMechanism(cfg.Auction, tieRand)
	if err != nil {
		return nil, err
	}

	auction, err := core.NewAuction(root.Split(), mechanism, r.agents, catalogues, toCoreConfig(cfg.Auction))
	if err != nil {
		return nil, err
	}
	if r.collector != nil {
		auction.SetObserver(r.collector)
	}
	r.auction = auction

	return r, nil
}

// RunID returns the identifier stamped on events and the summary.
func (r *Runner) RunID() string {
	return r.runID
}

// Agents returns the simulated agents.
func (r *Runner) Agents() []*core.Agent {
	return r.agents
}

// Run executes Iterations × RoundsPerIteration rounds. At each iteration
// boundary the agents are summarised, learn from their logs and have their
// utilities and logs cleared, then auction revenue is reset. The context is
// checked between rounds.
func (r *Runner) Run(ctx context.Context) (*simapi.RunSummary, error) {
	cfg := r.cfg
	debug := cfg.Logging.Debug()

	summary := &simapi.RunSummary{
		Type:               simapi.RunSummaryType,
		RunID:              r.runID,
		Seed:               cfg.Seed,
		SeedDigest:         core.ComputeSeedDigest(cfg.Seed),
		Mechanism:          cfg.Auction.Mechanism,
		Iterations:         cfg.Iterations,
		RoundsPerIteration: cfg.RoundsPerIteration,
		StartedAt:          r.now().UTC(),
	}
	digest := summary.SeedDigest

	log.Printf("INFO: Starting run %s: seed=%d, mechanism=%s, agents=%d, iterations=%d, rounds=%d",
		r.runID, cfg.Seed, cfg.Auction.Mechanism, len(r.agents), cfg.Iterations, cfg.RoundsPerIteration)

	for iter := 0; iter < cfg.Iterations; iter++ {
		for round := 0; round < cfg.RoundsPerIteration; round++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("run %s stopped at iteration %d round %d: %w", r.runID, iter, round, err)
			}

			result, err := r.auction.SimulateOpportunity()
			if err != nil {
				return nil, fmt.Errorf("iteration %d round %d: %w", iter, round, err)
			}

			for _, p := range result.Participants {
				event, err := r.emit(iter, round, p.Agent)
				if err != nil {
					return nil, err
				}
				digest = core.ChainDigest(digest, event.Hash)
				summary.Impressions++
			}
		}

		report := r.report(iter, digest)
		summary.Reports = append(summary.Reports, report)
		summary.TotalRevenue += report.Revenue

		if r.collector != nil {
			r.collector.ObserveIteration(iter, r.agents)
		}
		if debug {
			for _, a := range report.Agents {
				log.Printf("DEBUG: Iteration %d agent %s: impressions=%d, net_utility=%.4f, spend=%.4f, clicks=%d, conversions=%d",
					iter, a.Name, a.Impressions, a.NetUtility, a.Spend, a.Clicks, a.Conversions)
			}
		}
		log.Printf("INFO: Iteration %d complete: revenue=%.4f, digest=%s", iter, report.Revenue, digest)

		for _, agent := range r.agents {
			if err := agent.Update(iter); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", iter, err)
			}
			agent.ClearUtility()
			agent.ClearLogs()
		}
		r.auction.ClearRevenue()
	}

	summary.Digest = digest
	summary.FinishedAt = r.now().UTC()

	log.Printf("INFO: Run %s complete: impressions=%d, total_revenue=%.4f, digest=%s",
		r.runID, summary.Impressions, summary.TotalRevenue, digest)

	return summary, nil
}

// emit turns the agent's newest record into an event and hands it to the sink.
func (r *Runner) emit(iter, round int, name string) (simapi.ImpressionEvent, error) {
	agent, ok := r.byName[name]
	if !ok {
		return simapi.ImpressionEvent{}, fmt.Errorf("%w: round result names unknown agent %s", core.ErrInvariant, name)
	}

	rec, resolved, err := agent.LastImpression()
	if err != nil {
		return simapi.ImpressionEvent{}, err
	}
	if !resolved {
		return simapi.ImpressionEvent{}, fmt.Errorf("%w: agent %s left round %d unresolved", core.ErrInvariant, name, round)
	}

	event := simapi.NewImpressionEvent(r.runID, iter, round, name, rec)
	if r.sink != nil {
		if err := r.sink.WriteEvent(event); err != nil {
			return simapi.ImpressionEvent{}, fmt.Errorf("writing event: %w", err)
		}
	}
	return event, nil
}

func (r *Runner) report(iter int, digest string) simapi.IterationReport {
	agents := make([]simapi.AgentSummary, len(r.agents))
	for i, a := range r.agents {
		agents[i] = simapi.SummarizeAgent(a)
	}
	return simapi.IterationReport{
		Iteration: iter,
		Rounds:    r.cfg.RoundsPerIteration,
		Revenue:   r.auction.Revenue(),
		Agents:    agents,
		Digest:    digest,
	}
}

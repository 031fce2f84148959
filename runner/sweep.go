package runner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/dimdimlv/mt-project/config"
	"github.com/dimdimlv/mt-project/simapi"
)

// SweepResult is the outcome of one seed in a sweep.
type SweepResult struct {
	Seed    uint64
	Summary *simapi.RunSummary
	Err     error
}

// Sweep runs one independent replica of cfg per seed, at most maxWorkers at
// a time. Replicas share nothing: each builds its own agents and streams from
// its seed. Results come back in seed order. opts apply to every replica, so
// a shared sink or collector must be safe for concurrent use.
func Sweep(ctx context.Context, cfg *config.Config, seeds []uint64, maxWorkers int, opts ...Option) []SweepResult {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	semaphore := make(chan struct{}, maxWorkers)
	results := make([]SweepResult, len(seeds))

	log.Printf("INFO: Sweep of %d seeds with %d max concurrent workers", len(seeds), maxWorkers)

	var wg sync.WaitGroup
	for i, seed := range seeds {
		results[i].Seed = seed

		// Acquire worker slot, waiting for one to free up
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = fmt.Errorf("seed %d not started: %w", seed, ctx.Err())
			continue
		}

		wg.Add(1)
		go func(i int, seed uint64) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release worker slot

			replica := *cfg
			replica.Seed = seed

			r, err := New(&replica, opts...)
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Summary, results[i].Err = r.Run(ctx)
		}(i, seed)
	}
	wg.Wait()

	return results
}

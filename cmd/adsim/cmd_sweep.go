package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dimdimlv/mt-project/runner"
)

type sweepRow struct {
	Seed         uint64  `json:"seed"`
	Digest       string  `json:"digest,omitempty"`
	Impressions  int     `json:"impressions,omitempty"`
	TotalRevenue float64 `json:"total_revenue,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one independent replica per seed",
		Example: `  adsim sweep --config sim.yaml --seeds 1,2,3,4 --workers 2
  adsim sweep --seeds 7,8 --rounds 200 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			seeds, _ := cmd.Flags().GetUintSlice("seeds")
			workers, _ := cmd.Flags().GetInt("workers")

			if len(seeds) == 0 {
				return &exitError{code: exitRuntimeError, err: errors.New("--seeds is required")}
			}
			cfg, err := loadRunConfig(cmd)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			replicaSeeds := make([]uint64, len(seeds))
			for i, s := range seeds {
				replicaSeeds[i] = uint64(s)
			}
			results := runner.Sweep(ctx, cfg, replicaSeeds, workers)

			rows := make([]sweepRow, len(results))
			failed := 0
			for i, res := range results {
				rows[i].Seed = res.Seed
				if res.Err != nil {
					rows[i].Error = res.Err.Error()
					failed++
					continue
				}
				rows[i].Digest = res.Summary.Digest
				rows[i].Impressions = res.Summary.Impressions
				rows[i].TotalRevenue = res.Summary.TotalRevenue
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rows); err != nil {
					return err
				}
			} else {
				for _, row := range rows {
					if row.Error != "" {
						fmt.Fprintf(out, "seed=%-8d error: %s\n", row.Seed, row.Error)
						continue
					}
					fmt.Fprintf(out, "seed=%-8d impressions=%-8d revenue=%12.4f digest=%s\n",
						row.Seed, row.Impressions, row.TotalRevenue, row.Digest)
				}
			}

			if failed > 0 {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("%d of %d replicas failed", failed, len(rows))}
			}
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().UintSlice("seeds", nil, "Comma-separated seeds, one replica each")
	cmd.Flags().Int("workers", runtime.NumCPU(), "Maximum replicas run concurrently")

	return cmd
}

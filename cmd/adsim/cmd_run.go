package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dimdimlv/mt-project/attestation"
	"github.com/dimdimlv/mt-project/config"
	"github.com/dimdimlv/mt-project/metrics"
	"github.com/dimdimlv/mt-project/runner"
	"github.com/dimdimlv/mt-project/simapi"
)

// Signed summary file encodings.
const (
	signedFormatRaw  = "raw"
	signedFormatGzip = "gzip"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one seeded simulation",
		Long: `Run builds the agents and auction from a config and runs every iteration.

The impression event stream can be written to a file and the run summary
signed with an ECDSA P-256 key, so that "adsim verify" can later check the
summary against the stream.`,
		Example: `  adsim run --config sim.yaml --seed 7
  adsim run --config sim.yaml --events events.cbor --sign-key key.pem --signed-out run.cose
  adsim run --metrics-addr :9090 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			eventsPath, _ := cmd.Flags().GetString("events")
			eventsFormat, _ := cmd.Flags().GetString("events-format")
			signKeyPath, _ := cmd.Flags().GetString("sign-key")
			signedOut, _ := cmd.Flags().GetString("signed-out")
			signedFormat, _ := cmd.Flags().GetString("signed-format")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			cfg, err := loadRunConfig(cmd)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			if (signKeyPath == "") != (signedOut == "") {
				return &exitError{code: exitRuntimeError, err: errors.New("--sign-key and --signed-out must be given together")}
			}
			if signedFormat != signedFormatRaw && signedFormat != signedFormatGzip {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("unknown signed format %q (want raw or gzip)", signedFormat)}
			}

			var signKey *ecdsa.PrivateKey
			if signKeyPath != "" {
				signKey, err = attestation.LoadPrivateKey(signKeyPath)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
			}

			var opts []runner.Option

			var events simapi.EventWriter
			if eventsPath != "" {
				format, err := simapi.ParseEventFormat(eventsFormat)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
				f, err := os.Create(eventsPath)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: fmt.Errorf("creating events file: %w", err)}
				}
				defer f.Close()
				events, err = simapi.NewEventWriter(f, format)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
				opts = append(opts, runner.WithEventSink(events))
			}

			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector())
				opts = append(opts, runner.WithCollector(metrics.NewCollector(reg)))

				stop := serveMetrics(metricsAddr, reg)
				defer stop()
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			r, err := runner.New(cfg, opts...)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			summary, err := r.Run(ctx)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}

			if events != nil {
				if err := events.Flush(); err != nil {
					return &exitError{code: exitRuntimeError, err: fmt.Errorf("flushing events: %w", err)}
				}
				log.Printf("INFO: Wrote %d events to %s", summary.Impressions, eventsPath)
			}

			if signKey != nil {
				if err := writeSignedSummary(summary, signKey, signedOut, signedFormat); err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
				log.Printf("INFO: Wrote signed summary to %s", signedOut)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	addConfigFlags(cmd)
	cmd.Flags().String("events", "", "Write the impression event stream to this file")
	cmd.Flags().String("events-format", string(simapi.FormatCBOR), "Event stream encoding: cbor or jsonl")
	cmd.Flags().String("sign-key", "", "PEM private key used to sign the run summary")
	cmd.Flags().String("signed-out", "", "Write the signed run summary (COSE_Sign1) to this file")
	cmd.Flags().String("signed-format", signedFormatRaw, "Signed summary encoding: raw or gzip (gzipped base64url text)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running (e.g. :9090)")

	return cmd
}

// addConfigFlags registers the flags that override the loaded config.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "YAML config file (defaults apply when omitted)")
	cmd.Flags().Uint64("seed", config.DefaultSeed, "Root random seed")
	cmd.Flags().Int("iterations", config.DefaultIterations, "Number of iterations")
	cmd.Flags().Int("rounds", config.DefaultRoundsPerIteration, "Rounds per iteration")
}

// loadRunConfig loads the config and applies only the flags the user set.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("seed") {
		cfg.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if cmd.Flags().Changed("iterations") {
		cfg.Iterations, _ = cmd.Flags().GetInt("iterations")
	}
	if cmd.Flags().Changed("rounds") {
		cfg.RoundsPerIteration, _ = cmd.Flags().GetInt("rounds")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("INFO: Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: Metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("WARNING: Metrics server shutdown: %v", err)
		}
	}
}

func writeSignedSummary(summary *simapi.RunSummary, key *ecdsa.PrivateKey, path, format string) error {
	signed, err := attestation.SignSummary(summary, key)
	if err != nil {
		return fmt.Errorf("signing summary: %w", err)
	}

	data := []byte(signed)
	if format == signedFormatGzip {
		compressed, err := signed.CompressGzip()
		if err != nil {
			return err
		}
		data = []byte(compressed.String() + "\n")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing signed summary: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s *simapi.RunSummary) {
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  Seed:          %d\n", s.Seed)
	fmt.Fprintf(w, "  Mechanism:     %s\n", s.Mechanism)
	fmt.Fprintf(w, "  Iterations:    %d x %d rounds\n", s.Iterations, s.RoundsPerIteration)
	fmt.Fprintf(w, "  Impressions:   %d\n", s.Impressions)
	fmt.Fprintf(w, "  Total revenue: %.4f\n", s.TotalRevenue)
	fmt.Fprintf(w, "  Digest:        %s\n", s.Digest)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Iterations:")
	for _, report := range s.Reports {
		fmt.Fprintf(w, "  %3d  revenue=%.4f\n", report.Iteration, report.Revenue)
		for _, a := range report.Agents {
			fmt.Fprintf(w, "       %-16s net_utility=%9.4f spend=%9.4f clicks=%5d conversions=%4d acos=%s\n",
				a.Name, a.NetUtility, a.Spend, a.Clicks, a.Conversions, formatRatio(float64(a.ACoS)))
		}
	}
}

func formatRatio(r float64) string {
	if math.IsInf(r, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.4f", r)
}

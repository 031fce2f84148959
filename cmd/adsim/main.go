package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// Exit codes, shared with the verifier:
// 0 - success, 1 - validation failed, 2 - invalid input or runtime error.
const (
	exitOK           = 0
	exitInvalid      = 1
	exitRuntimeError = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adsim",
		Short: "Repeated sealed-bid ad auction simulator",
		Long: `adsim simulates repeated sealed-bid auctions for ad slots.

Agents hold item catalogues, estimate click-through rates, bid, and learn
between iterations. Runs are reproducible from a seed and can be signed
and verified against their impression event stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSweepCmd(),
		newVerifyCmd(),
		newKeygenCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dimdimlv/mt-project/attestation"
	"github.com/dimdimlv/mt-project/simapi"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed run summary",
		Long: `Verify checks a signed run summary against a public key.

With --events it also recomputes every impression hash and the digest chain
from the event stream. With --seed it checks the summary was produced from
that seed.

Exit Codes:
  0 - Validation passed
  1 - Validation failed
  2 - Invalid input or runtime error`,
		Example: `  adsim verify --summary run.cose --public-key key.pub.pem
  adsim verify --summary run.cose --public-key key.pub.pem --events events.cbor --seed 7 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			summaryPath, _ := cmd.Flags().GetString("summary")
			publicKeyPath, _ := cmd.Flags().GetString("public-key")
			eventsPath, _ := cmd.Flags().GetString("events")
			eventsFormat, _ := cmd.Flags().GetString("events-format")

			if summaryPath == "" || publicKeyPath == "" {
				return &exitError{code: exitRuntimeError, err: errors.New("--summary and --public-key are required")}
			}

			signed, err := readSignedSummary(summaryPath)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("reading signed summary: %w", err)}
			}
			pub, err := attestation.LoadPublicKey(publicKeyPath)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}

			input := &attestation.SummaryValidationInput{COSE: signed, PublicKey: pub}

			if eventsPath != "" {
				format, err := simapi.ParseEventFormat(eventsFormat)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
				input.Events, err = readEvents(eventsPath, format)
				if err != nil {
					return &exitError{code: exitRuntimeError, err: fmt.Errorf("reading events: %w", err)}
				}
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				input.ExpectedSeed = &seed
			}

			result, err := attestation.ValidateRunSummary(input)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("validation error: %w", err)}
			}

			if jsonOut {
				if err := outputJSON(cmd.OutOrStdout(), result); err != nil {
					return &exitError{code: exitRuntimeError, err: err}
				}
			} else {
				outputText(cmd.OutOrStdout(), result)
			}

			if !result.IsValid() {
				return &exitError{code: exitInvalid, err: errors.New("validation failed")}
			}
			return nil
		},
	}

	cmd.Flags().String("summary", "", "Signed run summary file (raw COSE_Sign1 or gzipped base64url text)")
	cmd.Flags().String("public-key", "", "PEM public key of the signer")
	cmd.Flags().String("events", "", "Impression event stream to check against the summary")
	cmd.Flags().String("events-format", string(simapi.FormatCBOR), "Event stream encoding: cbor or jsonl")
	cmd.Flags().Uint64("seed", 0, "Expected seed of the run")

	return cmd
}

// readSignedSummary accepts both encodings written by "adsim run". A COSE_Sign1
// message starts with CBOR tag 18 (0xd2) or a 4-element array (0x84); anything
// else is treated as gzipped base64url text.
func readSignedSummary(path string) (simapi.SummaryCOSE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	if data[0] == 0xd2 || data[0] == 0x84 {
		return simapi.SummaryCOSE(data), nil
	}
	return simapi.SummaryCOSEGzip(bytes.TrimSpace(data)).Decompress()
}

func readEvents(path string, format simapi.EventFormat) ([]simapi.ImpressionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	events, err := simapi.ReadEvents(f, format)
	if err != nil {
		return nil, err
	}
	// An empty stream still asks for the stream checks.
	if events == nil {
		events = []simapi.ImpressionEvent{}
	}
	return events, nil
}

func outputText(w io.Writer, result *attestation.SummaryValidationResult) {
	fmt.Fprintln(w, "Run Summary Validator")
	fmt.Fprintln(w, "==================================")
	fmt.Fprintln(w)

	if s := result.Summary; s != nil {
		fmt.Fprintln(w, "Run:")
		fmt.Fprintf(w, "  Run ID:                  %s\n", s.RunID)
		fmt.Fprintf(w, "  Seed:                    %d\n", s.Seed)
		fmt.Fprintf(w, "  Mechanism:               %s\n", s.Mechanism)
		fmt.Fprintf(w, "  Impressions:             %d\n", s.Impressions)
		fmt.Fprintf(w, "  Digest:                  %s\n", s.Digest)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Key ID Valid:            %v\n", result.KeyIDValid)
	fmt.Fprintf(w, "  Payload Valid:           %v\n", result.PayloadValid)
	fmt.Fprintf(w, "  Seed Digest Valid:       %v\n", result.SeedDigestValid)
	if result.EventsChecked {
		fmt.Fprintf(w, "  Event Hashes Valid:      %v\n", result.EventHashesValid)
		fmt.Fprintf(w, "  Digest Chain Valid:      %v\n", result.DigestValid)
	} else {
		fmt.Fprintln(w, "  Event Stream:            not checked")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "==================================")
	if result.IsValid() {
		fmt.Fprintln(w, "VALIDATION: ✓ PASSED")
		fmt.Fprintln(w, "Exit Code: 0")
	} else {
		fmt.Fprintln(w, "VALIDATION: ✗ FAILED")
		fmt.Fprintln(w, "Exit Code: 1")
	}
}

func outputJSON(w io.Writer, result *attestation.SummaryValidationResult) error {
	output := map[string]any{
		"valid":              result.IsValid(),
		"signature_valid":    result.SignatureValid,
		"key_id_valid":       result.KeyIDValid,
		"payload_valid":      result.PayloadValid,
		"seed_digest_valid":  result.SeedDigestValid,
		"events_checked":     result.EventsChecked,
		"event_hashes_valid": result.EventHashesValid,
		"digest_valid":       result.DigestValid,
		"details":            result.ValidationDetails,
	}
	if s := result.Summary; s != nil {
		output["run_id"] = s.RunID
		output["seed"] = s.Seed
		output["digest"] = s.Digest
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

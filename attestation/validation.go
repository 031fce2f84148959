package attestation

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/dimdimlv/mt-project/core"
	"github.com/dimdimlv/mt-project/simapi"
)

// SummaryValidationInput contains everything needed to check a signed run summary
type SummaryValidationInput struct {
	COSE         simapi.SummaryCOSE
	PublicKey    *ecdsa.PublicKey
	Events       []simapi.ImpressionEvent // nil = skip stream checks
	ExpectedSeed *uint64                  // nil = accept any seed
}

// SummaryValidationResult holds the outcome of each check
type SummaryValidationResult struct {
	SignatureValid   bool
	KeyIDValid       bool
	PayloadValid     bool
	SeedDigestValid  bool
	EventsChecked    bool
	EventHashesValid bool
	DigestValid      bool

	Summary           *simapi.RunSummary
	ValidationDetails []string
}

// IsValid returns true if every check that was performed passed
func (r *SummaryValidationResult) IsValid() bool {
	if !r.SignatureValid || !r.KeyIDValid || !r.PayloadValid || !r.SeedDigestValid {
		return false
	}
	if r.EventsChecked {
		return r.EventHashesValid && r.DigestValid
	}
	return true
}

func (r *SummaryValidationResult) addDetail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}

// ValidateRunSummary verifies a signed run summary and, when an event stream
// is supplied, recomputes every impression hash and the digest chain.
//
// Returns:
//   - SummaryValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., missing key, malformed COSE)
func ValidateRunSummary(input *SummaryValidationInput) (*SummaryValidationResult, error) {
	if input == nil || input.PublicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}

	msg, err := parseSign1(input.COSE)
	if err != nil {
		return nil, err
	}

	result := &SummaryValidationResult{}

	if err := VerifyCOSESignature(input.COSE, input.PublicKey); err != nil {
		result.addDetail("Signature verification failed: %v", err)
	} else {
		result.SignatureValid = true
		result.addDetail("Signature verification passed (ES256)")
	}

	result.KeyIDValid = validateKeyID(keyIDFromHeaders(msg), input.PublicKey, result)

	summary, err := simapi.UnmarshalRunSummary(msg.Payload)
	if err != nil {
		result.addDetail("Summary payload invalid: %v", err)
		return result, nil
	}
	result.PayloadValid = true
	result.Summary = summary
	result.addDetail("Summary payload decoded: run %s, %d iterations", summary.RunID, summary.Iterations)

	result.SeedDigestValid = validateSeed(input, summary, result)

	if input.Events == nil {
		result.addDetail("Event stream not supplied, skipping digest checks")
		return result, nil
	}

	result.EventsChecked = true
	result.EventHashesValid = validateEventHashes(input.Events, summary, result)
	result.DigestValid = validateDigestChain(input.Events, summary, result)

	return result, nil
}

func validateKeyID(attestedKID string, pub *ecdsa.PublicKey, result *SummaryValidationResult) bool {
	if attestedKID == "" {
		result.addDetail("Key ID missing from protected header")
		return false
	}

	expected, err := KeyID(pub)
	if err != nil {
		result.addDetail("Key ID could not be computed: %v", err)
		return false
	}

	if expected != attestedKID {
		result.addDetail("Key ID mismatch: expected %s, message has %s", expected, attestedKID)
		return false
	}

	result.addDetail("Key ID validation passed: %s", expected)
	return true
}

func validateSeed(input *SummaryValidationInput, summary *simapi.RunSummary, result *SummaryValidationResult) bool {
	computed := core.ComputeSeedDigest(summary.Seed)
	if computed != summary.SeedDigest {
		result.addDetail("Seed digest mismatch: computed %s, summary has %s", computed, summary.SeedDigest)
		return false
	}

	if input.ExpectedSeed != nil && *input.ExpectedSeed != summary.Seed {
		result.addDetail("Seed mismatch: expected %d, summary has %d", *input.ExpectedSeed, summary.Seed)
		return false
	}

	result.addDetail("Seed digest validation passed: seed %d", summary.Seed)
	return true
}

func validateEventHashes(events []simapi.ImpressionEvent, summary *simapi.RunSummary, result *SummaryValidationResult) bool {
	valid := true
	for i, e := range events {
		if e.RunID != summary.RunID {
			result.addDetail("Event %d belongs to run %s, expected %s", i, e.RunID, summary.RunID)
			valid = false
			continue
		}
		if !e.VerifyHash() {
			result.addDetail("Event %d hash mismatch (iteration %d, round %d, agent %s)", i, e.Iteration, e.Round, e.Agent)
			valid = false
		}
	}

	if len(events) != summary.Impressions {
		result.addDetail("Impression count mismatch: stream has %d, summary has %d", len(events), summary.Impressions)
		valid = false
	}

	if valid {
		result.addDetail("Event hash validation passed: %d events", len(events))
	}
	return valid
}

// validateDigestChain folds the stream's hashes in order and compares the
// running digest with each iteration report, then recomputes the run digest
// from the summary's seed over the whole stream.
func validateDigestChain(events []simapi.ImpressionEvent, summary *simapi.RunSummary, result *SummaryValidationResult) bool {
	digest := summary.SeedDigest
	valid := true
	next := 0

	for _, report := range summary.Reports {
		for next < len(events) && events[next].Iteration <= report.Iteration {
			if events[next].Iteration < report.Iteration {
				result.addDetail("Event %d is out of order: iteration %d after iteration %d began", next, events[next].Iteration, report.Iteration)
				return false
			}
			digest = core.ChainDigest(digest, events[next].Hash)
			next++
		}
		if digest != report.Digest {
			result.addDetail("Iteration %d digest mismatch: computed %s, report has %s", report.Iteration, digest, report.Digest)
			valid = false
		}
	}

	hashes := make([]string, len(events))
	for i, e := range events {
		hashes[i] = e.Hash
	}
	digest = core.ComputeRunDigest(summary.Seed, hashes)
	if digest != summary.Digest {
		result.addDetail("Run digest mismatch: computed %s, summary has %s", digest, summary.Digest)
		return false
	}

	if valid {
		result.addDetail("Digest chain validation passed: %s", digest)
	}
	return valid
}

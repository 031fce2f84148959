package attestation

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/dimdimlv/mt-project/simapi"
)

const contentTypeCBOR = "application/cbor"

// SignSummary encodes the summary as canonical CBOR and wraps it in a tagged
// COSE_Sign1 message signed with ES256. The key ID travels in the protected
// header.
func SignSummary(summary *simapi.RunSummary, key *ecdsa.PrivateKey) (simapi.SummaryCOSE, error) {
	payload, err := summary.MarshalCanonical()
	if err != nil {
		return nil, err
	}

	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: contentTypeCBOR,
			cose.HeaderLabelKeyID:       []byte(kid),
		},
	}

	signed, err := cose.Sign1(rand.Reader, signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign summary: %w", err)
	}
	return simapi.SummaryCOSE(signed), nil
}

// parseSign1 decodes a tagged COSE_Sign1 message.
func parseSign1(coseBytes []byte) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(coseBytes); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	return &msg, nil
}

// ExtractCOSEPayload returns the payload of a COSE_Sign1 message without
// checking its signature.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	msg, err := parseSign1(coseBytes)
	if err != nil {
		return nil, err
	}
	if len(msg.Payload) == 0 {
		return nil, fmt.Errorf("invalid payload in COSE structure")
	}
	return msg.Payload, nil
}

// keyIDFromHeaders returns the key ID from the protected header, or "" when absent.
func keyIDFromHeaders(msg *cose.Sign1Message) string {
	raw, ok := msg.Headers.Protected[cose.HeaderLabelKeyID]
	if !ok {
		return ""
	}
	kid, ok := raw.([]byte)
	if !ok {
		return ""
	}
	return string(kid)
}

// VerifyCOSESignature verifies an ES256 COSE_Sign1 signature against pub.
func VerifyCOSESignature(coseBytes []byte, pub *ecdsa.PublicKey) error {
	msg, err := parseSign1(coseBytes)
	if err != nil {
		return err
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}

	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return nil
}

// VerifySummary checks the signature and decodes the signed summary.
func VerifySummary(coseBytes simapi.SummaryCOSE, pub *ecdsa.PublicKey) (*simapi.RunSummary, error) {
	if err := VerifyCOSESignature(coseBytes, pub); err != nil {
		return nil, err
	}
	payload, err := ExtractCOSEPayload(coseBytes)
	if err != nil {
		return nil, err
	}
	return simapi.UnmarshalRunSummary(payload)
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dimdimlv/mt-project/attestation"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ECDSA P-256 key pair for signing run summaries",
		Long: `Keygen writes a PEM private key to --out and its public key next to it.

The public key path defaults to the private key path with ".pem" replaced
by ".pub.pem".`,
		Example: `  adsim keygen --out key.pem
  adsim keygen --out key.pem --public-out signer.pem`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out, _ := cmd.Flags().GetString("out")
			publicOut, _ := cmd.Flags().GetString("public-out")
			force, _ := cmd.Flags().GetBool("force")

			if out == "" {
				return &exitError{code: exitRuntimeError, err: errors.New("--out is required")}
			}
			if publicOut == "" {
				publicOut = publicKeyPath(out)
			}
			if !force {
				for _, path := range []string{out, publicOut} {
					if _, err := os.Stat(path); err == nil {
						return &exitError{code: exitRuntimeError, err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
					}
				}
			}

			key, err := attestation.GenerateSigningKey()
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			privPEM, err := attestation.PrivateKeyPEM(key)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			pubPEM, err := attestation.PublicKeyPEM(&key.PublicKey)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			kid, err := attestation.KeyID(&key.PublicKey)
			if err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}

			if err := os.WriteFile(out, privPEM, 0o600); err != nil {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("writing private key: %w", err)}
			}
			if err := os.WriteFile(publicOut, pubPEM, 0o644); err != nil {
				return &exitError{code: exitRuntimeError, err: fmt.Errorf("writing public key: %w", err)}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{
					"private_key": out,
					"public_key":  publicOut,
					"key_id":      kid,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Private key: %s\n", out)
			fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\n", publicOut)
			fmt.Fprintf(cmd.OutOrStdout(), "Key ID:      %s\n", kid)
			return nil
		},
	}

	cmd.Flags().String("out", "", "Private key output path")
	cmd.Flags().String("public-out", "", "Public key output path")
	cmd.Flags().Bool("force", false, "Overwrite existing key files")

	return cmd
}

func publicKeyPath(privatePath string) string {
	if base, ok := strings.CutSuffix(privatePath, ".pem"); ok {
		return base + ".pub.pem"
	}
	return privatePath + ".pub"
}

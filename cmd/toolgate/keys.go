package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/toolgate/auth"
)

func newHashKeyCmd() *cobra.Command {
	var (
		generate bool
		prefix   string
	)
	cmd := &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the key_hash of an API key",
		Long: `Print the hex SHA-256 digest to store as key_hash in the api_keys
section. With --generate a new random key is created first.`,
		Example: `  toolgate hash-key mcp_3f9c...
  toolgate hash-key --generate --prefix mcp_`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if generate {
				if len(args) > 0 {
					return errors.New("--generate takes no key argument")
				}
				key, err := generateKey(prefix)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "key:      %s\nkey_hash: %s\n", key, auth.HashAPIKey(key))
				return err
			}
			if len(args) == 0 || args[0] == "" {
				return errors.New("a key argument or --generate is required")
			}
			_, err := fmt.Fprintln(out, auth.HashAPIKey(args[0]))
			return err
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "generate a new random key")
	cmd.Flags().StringVar(&prefix, "prefix", "mcp_", "prefix of a generated key")
	return cmd
}

// generateKey returns prefix followed by 32 random bytes, base64url
// encoded.
func generateKey(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func newPKCECmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pkce",
		Short: "Generate a PKCE code verifier and its S256 challenge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verifier, challenge := auth.GeneratePKCE()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"code_verifier":         verifier,
					"code_challenge":        challenge,
					"code_challenge_method": "S256",
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "code_verifier:  %s\ncode_challenge: %s\n", verifier, challenge)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/caravel-sh/caravel/internal/core/crypto"
	"github.com/spf13/cobra"
)

// keygenCmd represents the keygen command
var keygenCmd = &cobra.Command{
	Use:   "keygen <output-file>",
	Short: "Generate an Ed25519 deploy key pair",
	Long: `Generate an Ed25519 key pair for reaching a deployment host.

The private key is written to the output file with mode 0600; the
public key is printed so it can be added to the host's
authorized_keys.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}

		privPEM, pubKey, err := crypto.GenerateSSHKeyPair()
		if err != nil {
			return err
		}

		if err := os.WriteFile(path, privPEM, 0600); err != nil {
			return err
		}

		fingerprint, err := crypto.GetSSHPublicKeyFingerprint(privPEM)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "private key written to %s\n", path)
		fmt.Fprintf(out, "fingerprint: %s\n", fingerprint)
		fmt.Fprintf(out, "public key:\n%s", pubKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

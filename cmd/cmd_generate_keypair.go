package cmd

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/poybro/soknode/pkg/crypto"
	"github.com/spf13/cobra"
)

type generateKeypairCmdOptions struct {
	Out   string
	Force bool
}

func NewGenerateKeypairCommand() *cobra.Command {
	opts := &generateKeypairCmdOptions{}

	cmd := &cobra.Command{
		Use:   "generate-keypair",
		Short: "Generate a wallet key file for the agent treasury or the staking pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateKeypairHandler(opts, cmd, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Out, "out", "keys/agent.key", `Path of the private key file`)
	flags.BoolVar(&opts.Force, "force", false, `Replace an existing key file. THE EXISTING KEY WILL BE LOST`)

	return cmd
}

func generateKeypairHandler(opts *generateKeypairCmdOptions, cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(opts.Out); err == nil {
		if !opts.Force {
			return errors.Errorf("key file %s already exists, use --force to replace it", opts.Out)
		}
		if err := os.Remove(opts.Out); err != nil {
			return errors.Wrap(err, "remove existing key file")
		}
	}

	wallet, err := crypto.LoadOrCreate(opts.Out)
	if err != nil {
		return errors.Wrap(err, "generate key file")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Private key saved at %s\n", opts.Out)
	fmt.Fprintf(out, "Address:    %s\n", wallet.Address())
	fmt.Fprintf(out, "Public key: %s\n", wallet.PublicKey())
	return nil
}

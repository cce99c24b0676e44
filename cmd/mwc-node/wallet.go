package main

import "github.com/urfave/cli/v2"

// newWalletCommand builds the wallet subcommand, which prints a message
// and exits with status 1; it does not contact any wallet API. Wallet
// key management and transaction building are out of scope for
// mwc-node's sync core; this subcommand exists only so the CLI surface
// matches the reference node's shape.
func newWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "wallet",
		Usage:     "Wallet operations (not implemented by this node; exits with an error)",
		UsageText: "mwc-node wallet <subcommand>",
		Action: func(ctx *cli.Context) error {
			return cli.Exit("wallet operations are served by a separate wallet process; this node exposes only the sync core and owner/foreign status APIs", 1)
		},
	}
}

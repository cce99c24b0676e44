// Command mwc-node runs the mwc-node sync core: server starts the node
// and exposes its owner/foreign APIs, wallet only reports that wallet
// operations are not served by this node (kept so the CLI shape
// matches the reference node), and clean wipes chain
// data so a fresh sync can be forced.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "mwc-node",
		Usage:   "Mimblewimble Coin node",
		Version: version,
		Commands: []*cli.Command{
			newServerCommand(),
			newWalletCommand(),
			newCleanCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// version is set at build time via -ldflags.
var version = "dev"

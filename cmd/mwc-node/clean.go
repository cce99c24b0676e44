package main

import (
	"fmt"
	"os"

	"github.com/dennisvanderpool/mwc-node/pkg/config"
	"github.com/urfave/cli/v2"
)

func newCleanCommand() *cli.Command {
	return &cli.Command{
		Name:      "clean",
		Usage:     "Remove local chain data so the next start forces a full resync",
		UsageText: "mwc-node clean [--config-path path]",
		Action:    cleanDataDir,
		Flags:     []cli.Flag{configFlag},
	}
}

func cleanDataDir(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config-path"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := os.RemoveAll(cfg.Server.DataDir); err != nil {
		return cli.Exit(fmt.Errorf("failed to remove %s: %w", cfg.Server.DataDir, err), 1)
	}
	fmt.Fprintf(ctx.App.Writer, "removed %s\n", cfg.Server.DataDir)
	return nil
}

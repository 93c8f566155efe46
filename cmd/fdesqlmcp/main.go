package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/fde-labs/fde-sql-mcp/internal/meta"
	"github.com/fde-labs/fde-sql-mcp/internal/settings"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the settings file (.json, .yaml, .yml or .toml)",
		Value:   settings.DefaultConfigFile,
		Sources: cli.EnvVars(settings.EnvConfigPath),
	}

	return &cli.Command{
		Name:    meta.Name,
		Usage:   "read-only SQL Server and PostgreSQL tools for MCP clients",
		Version: meta.ResolvedVersion(),
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the MCP server on the configured transport",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runServe(ctx, cmd.String("config"))
				},
			},
			{
				Name:  "doctor",
				Usage: "check the configuration and print client snippets",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "skip-ping",
						Usage: "do not connect to the database",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runDoctor(ctx, cmd.String("config"), cmd.Bool("skip-ping"))
				},
			},
			{
				Name:  "configure",
				Usage: "run the interactive configuration wizard",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runConfigure(cmd.String("config"))
				},
			},
		},
	}
}

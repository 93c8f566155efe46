package main

import (
	"os"

	"github.com/fde-labs/fde-sql-mcp/internal/configure"
)

func runConfigure(configPath string) error {
	printBanner(os.Stderr, isTTY(os.Stderr.Fd()))
	return configure.Run(configPath)
}

package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the fde-sql-mcp banner, with a green-to-blue gradient
// when useColor is true.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		``,
		`   __    _                   _                      `,
		`  / _|__| |___ ___ ___ __ _| |___ _ __  __ _ __    `,
		` |  _/ _' / -_)___(_-</ _' | |___| '  \/ _| '_ \   `,
		` |_| \__,_\___|   /__/\__, |_|   |_|_|_\__| .__/   `,
		`                         |_|              |_|      `,
		``,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[1;32m",
		"\033[1;32m",
		"\033[1;92m",
		"\033[1;36m",
		"\033[1;34m",
		"\033[1;94m",
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}

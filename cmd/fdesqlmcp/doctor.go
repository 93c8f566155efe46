package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/meta"
	"github.com/fde-labs/fde-sql-mcp/internal/settings"
)

func runDoctor(ctx context.Context, configPath string, skipPing bool) error {
	useColor := isTTY(os.Stderr.Fd())
	return doctor(ctx, os.Stderr, useColor, settings.Options{ConfigPath: configPath}, skipPing)
}

func doctor(ctx context.Context, w io.Writer, useColor bool, opts settings.Options, skipPing bool) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "%s %s\n\n", meta.Name, meta.ResolvedVersion())

	resolved, ok := doctorValidateConfig(ctx, w, useColor, opts, skipPing)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Fix the issues above and run '%s doctor' again.\n", meta.Name)
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, resolved)
	return nil
}

// doctorValidateConfig resolves the settings, builds the engine and pings
// the database, printing one check line per step. Returns the resolved
// settings and true if every check passed.
func doctorValidateConfig(ctx context.Context, w io.Writer, useColor bool, opts settings.Options, skipPing bool) (*settings.Resolved, bool) {
	resolved, err := settings.Load(opts)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Settings resolve: %v", err))
		return nil, false
	}
	if resolved.FileFound {
		printCheck(w, useColor, true, fmt.Sprintf("Settings file readable (%s)", resolved.ConfigPath))
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("No settings file at %s, using environment and defaults", resolved.ConfigPath))
	}

	allPassed := true
	for _, warning := range resolved.Warnings {
		printCheck(w, useColor, false, warning)
		allPassed = false
	}

	cfg := resolved.Config
	printCheck(w, useColor, true, fmt.Sprintf("sql_server is set (%s)", cfg.Host))

	if cfg.Server.Transport == "http" {
		if cfg.Server.Port <= 0 {
			printCheck(w, useColor, false, "server.port is > 0 (required for the http transport)")
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("server.port is > 0 (%d)", cfg.Server.Port))
		}
	}
	if cfg.Server.HealthCheckEnabled {
		printCheck(w, useColor, true, fmt.Sprintf("health_check_path is set (%s)", cfg.Server.HealthCheckPath))
	}

	engine, err := sqlmcp.New(cfg.Settings, zerolog.Nop())
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Engine settings valid: %v", err))
		return resolved, false
	}
	defer engine.Close()
	printCheck(w, useColor, true, fmt.Sprintf("Engine settings valid (dialect %s, all regex patterns compile)", engine.Dialect()))

	if skipPing {
		return resolved, allPassed
	}

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectionTimeoutSeconds+cfg.QueryTimeoutSeconds)*time.Second)
	defer cancel()
	if err := engine.Ping(pingCtx); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable (%s): %v", cfg.Database, err))
		allPassed = false
	} else {
		printCheck(w, useColor, true, fmt.Sprintf("Database reachable (%s)", cfg.Database))
	}

	return resolved, allPassed
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP client configuration for the configured
// transport: a command line for stdio, a URL for http.
func printAgentSnippets(w io.Writer, useColor bool, resolved *settings.Resolved) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if resolved.Config.Server.Transport == "http" {
		url := fmt.Sprintf("http://localhost:%d/mcp", resolved.Config.Server.Port)

		subheading("Claude Code")
		fmt.Fprintf(w, "  Run this command to add the server:\n\n")
		fmt.Fprintf(w, "    claude mcp add --transport http sqlserver %s\n\n", url)

		subheading("Cursor (.cursor/mcp.json), Copilot CLI (~/.copilot/mcp-config.json)")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlserver": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
		fmt.Fprintln(w)

		subheading("Gemini CLI (~/.gemini/settings.json)")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlserver": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
		return
	}

	configPath := resolved.ConfigPath
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add sqlserver -- %s --config %s serve\n\n", meta.Name, configPath)

	subheading("Claude Desktop, Cursor (.cursor/mcp.json), Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "sqlserver": {
        "command": "%s",
        "args": ["--config", %q, "serve"]
      }
    }
  }
`, meta.Name, configPath)
	fmt.Fprintln(w)

	subheading("OpenCode (opencode.json)")
	fmt.Fprintf(w, `  {
    "mcp": {
      "sqlserver": {
        "type": "local",
        "command": ["%s", "--config", %q, "serve"]
      }
    }
  }
`, meta.Name, configPath)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	sqlmcp "github.com/fde-labs/fde-sql-mcp"
	"github.com/fde-labs/fde-sql-mcp/internal/catalogcache"
	"github.com/fde-labs/fde-sql-mcp/internal/meta"
	"github.com/fde-labs/fde-sql-mcp/internal/metrics"
	"github.com/fde-labs/fde-sql-mcp/internal/settings"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, configPath string) error {
	// 1. Resolve settings
	resolved, err := settings.Load(settings.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	cfg := resolved.Config

	// 2. Setup logger
	logger, closeLog, err := setupLogger(cfg.Logging, cfg.Server.Transport)
	if err != nil {
		return err
	}
	defer closeLog()

	if resolved.FileFound {
		logger.Info().Str("path", resolved.ConfigPath).Msg("settings file loaded")
	} else {
		logger.Info().Str("path", resolved.ConfigPath).Msg("no settings file, using environment and defaults")
	}
	for _, w := range resolved.Warnings {
		logger.Warn().Str("path", resolved.ConfigPath).Msg(w)
	}

	// 3. Optional collaborators
	var opts []sqlmcp.Option
	var m *metrics.Metrics
	if cfg.Server.MetricsAddr != "" {
		m = metrics.New()
		opts = append(opts, sqlmcp.WithMetrics(m))
	}
	if cfg.Cache.URL != "" {
		cache, err := catalogcache.NewRedis(ctx, cfg.Cache.URL, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("catalog cache: %w", err)
		}
		opts = append(opts, sqlmcp.WithCatalogCache(cache))
		logger.Info().Int("ttl_seconds", cfg.Cache.TTLSeconds).Msg("catalog cache enabled")
	}

	// 4. Create the engine
	engine, err := sqlmcp.New(cfg.Settings, logger, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	logger.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Str("dialect", engine.Dialect()).
		Bool("enforce_readonly", cfg.EnforceReadOnly).
		Msg("engine ready")

	// 5. Test database connection; tools stay available when it is down.
	if err := engine.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("database connection test failed")
	} else {
		logger.Info().Msg("database connection test successful")
	}

	mcpServer := newMCPServer(engine, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	if m != nil {
		srv := metrics.NewServer(cfg.Server.MetricsAddr, m)
		serveHTTP(g, gctx, srv, logger.With().Str("server", "metrics").Logger())
	}

	switch cfg.Server.Transport {
	case "http":
		if cfg.Server.Port <= 0 {
			return errors.New("server.port must be > 0 for the http transport")
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			ReadHeaderTimeout: 10 * time.Second,
		}
		streamable := server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath("/mcp"),
			server.WithStateLess(true),
			server.WithStreamableHTTPServer(httpSrv),
		)
		httpSrv.Handler = newRouter(cfg.Server, streamable)
		serveHTTP(g, gctx, httpSrv, logger.With().Str("server", "mcp").Logger())
	default:
		g.Go(func() error {
			logger.Info().Msg("serving MCP over stdio")
			stdio := server.NewStdioServer(mcpServer)
			stdio.SetErrorLogger(log.New(logger, "", 0))
			err := stdio.Listen(gctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// Stdin closed: the client is gone, stop the other servers too.
			stop()
			return err
		})
	}

	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

// newMCPServer builds the protocol server with every tool registered and
// client connections logged.
func newMCPServer(engine *sqlmcp.SQLMcp, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer(meta.Name, meta.ResolvedVersion(),
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	sqlmcp.RegisterMCPTools(mcpServer, engine)
	return mcpServer
}

// newRouter mounts the MCP endpoint at /mcp and, when enabled, a liveness
// probe. The probe does not touch the database.
func newRouter(cfg sqlmcp.ServerSettings, mcpHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/mcp", mcpHandler)
	if cfg.HealthCheckEnabled {
		r.Get(cfg.HealthCheckPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	return r
}

// serveHTTP runs srv in g and shuts it down when ctx ends.
func serveHTTP(g *errgroup.Group, ctx context.Context, srv *http.Server, logger zerolog.Logger) {
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		return nil
	})
}

// setupLogger builds the process logger. Stdout is reserved for protocol
// frames on the stdio transport. The returned func closes a log file.
func setupLogger(config sqlmcp.LoggingConfig, transport string) (zerolog.Logger, func(), error) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	closeFn := func() {}
	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		if transport != "http" {
			return zerolog.Nop(), closeFn, errors.New("logging.output stdout is only allowed with the http transport")
		}
		output = os.Stdout
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closeFn = func() { f.Close() }
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), closeFn, nil
}

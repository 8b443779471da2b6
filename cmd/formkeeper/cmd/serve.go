package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/formkeeper/internal/core/api"
	"github.com/solatis/formkeeper/internal/core/auth"
	"github.com/solatis/formkeeper/internal/core/config"
	"github.com/solatis/formkeeper/internal/core/db"
	"github.com/solatis/formkeeper/internal/core/server"
	"github.com/solatis/formkeeper/internal/events"
	"github.com/solatis/formkeeper/internal/form"
	"github.com/solatis/formkeeper/internal/metrics"
	"github.com/solatis/formkeeper/internal/schema"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC and HTTP form API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC server port")
	serveCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serveCmd.Flags().String("schemas", "", "schema directory (overrides config)")
	serveCmd.Flags().Bool("insecure", false, "serve without API key authentication")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if cmd.Flags().Changed("http-port") {
		cfg.Server.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("schemas") {
		cfg.Server.SchemaDir, _ = cmd.Flags().GetString("schemas")
	}
	insecure, _ := cmd.Flags().GetBool("insecure")

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	applied, err := db.Applied(database, "002_api_keys.sql")
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	if !applied {
		return fmt.Errorf("migration 002_api_keys not applied - run 'formkeeper migrate up' first")
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	var authenticator *auth.Authenticator
	if !insecure {
		secrets, err := config.HMACSecrets()
		if err != nil {
			return fmt.Errorf("failed to load HMAC secrets: %w", err)
		}
		if len(secrets) == 0 {
			return fmt.Errorf("no HMAC secrets configured (set FK_HMAC_SECRET environment variable or pass --insecure)")
		}
		authenticator = auth.NewAuthenticator(secrets, queries, logger.With().Str("component", "auth").Logger())
	}

	collector := metrics.New()

	registry, err := schema.NewRegistry(cfg.Server.SchemaDir,
		schema.WithLogger(logger.With().Str("component", "schemas").Logger()),
		schema.WithMetrics(collector))
	if err != nil {
		return err
	}
	if cfg.Server.WatchSchemas {
		if err := registry.Watch(); err != nil {
			return fmt.Errorf("failed to watch schemas: %w", err)
		}
		defer registry.Stop()
		registry.OnChange(func(names []string) {
			logger.Info().Strs("schemas", names).Msg("schemas changed")
		})
	}

	bus := events.NewBus(logger.With().Str("component", "events").Logger())
	bus.On(string(form.SubmitError), func(r events.Record) {
		logger.Warn().Err(r.Err).Str("form_id", r.FormID).Msg("submit failed")
	})

	service, err := api.NewFormService(registry, cfg.Form,
		api.WithBus(bus),
		api.WithStore(db.NewSubmissionStore(queries, logger)),
		api.WithLogger(logger.With().Str("component", "api").Logger()),
		api.WithMetrics(collector),
		api.WithDataDir(cfg.Server.DataDir),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(&cfg.Server, service, authenticator, logger.With().Str("component", "grpc").Logger())
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}
	httpServer, err := server.NewHTTPServer(&cfg.Server, service, server.HTTPOptions{
		Authenticator: authenticator,
		Metrics:       collector,
	}, logger.With().Str("component", "http").Logger())
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("version", Version).
		Str("host", cfg.Server.Host).
		Int("grpc_port", cfg.Server.GRPCPort).
		Int("http_port", cfg.Server.HTTPPort).
		Strs("schemas", registry.Names()).
		Msg("starting FormKeeper")

	errChan := make(chan error, 2)
	go func() { errChan <- grpcServer.Start(ctx) }()
	go func() { errChan <- httpServer.Start(ctx) }()

	var serveErr error
	select {
	case serveErr = <-errChan:
		logger.Error().Err(serveErr).Msg("server stopped")
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("gRPC shutdown")
	}
	return serveErr
}

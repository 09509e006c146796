// Package main is the entry point for the auth services API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/axonops/axonops-auth-service/internal/api"
	"github.com/axonops/axonops-auth-service/internal/api/handlers"
	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/bootstrap"
	"github.com/axonops/axonops-auth-service/internal/cluster"
	"github.com/axonops/axonops-auth-service/internal/config"
	"github.com/axonops/axonops-auth-service/internal/schema"
	"github.com/axonops/axonops-auth-service/internal/secrets"
	"github.com/axonops/axonops-auth-service/internal/storage"
	"github.com/axonops/axonops-auth-service/internal/storage/cassandra"
	"github.com/axonops/axonops-auth-service/internal/storage/memory"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("axonops-auth-service %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Bootstrap logger, replaced once the config is loaded.
	logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"})
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)

	meta := cluster.NewMetadata()
	logger.Info("starting auth services API",
		slog.String("version", version),
		slog.String("node_id", meta.NodeID),
		slog.String("hostname", meta.Hostname),
		slog.String("go_version", meta.GoVersion),
		slog.String("storage", cfg.Storage.Type),
		slog.String("address", cfg.Address()),
	)

	// Credentials fetched from Vault override whatever the config file says.
	creds, err := secrets.FetchCassandraCredentials(context.Background(), cfg.Vault)
	if err != nil {
		logger.Error("failed to fetch cassandra credentials from vault", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if creds != nil {
		logger.Info("using cassandra credentials from vault", slog.String("username", creds.Username))
		cfg.Cassandra.Username = creds.Username
		cfg.Cassandra.Password = creds.Password
	}

	// Create the storage backend and, for Cassandra, the schema coordination
	// pieces that share its cluster gateway.
	var (
		store      storage.Store
		gateway    *cluster.Cluster
		coord      *schema.Coordinator
		ddl        bootstrap.DDL
		migrator   bootstrap.Migrator
		migrations handlers.MigrationRequests
	)

	switch cfg.Storage.Type {
	case "memory":
		logger.Info("using in-memory storage")
		store = memory.NewStore()

	case "cassandra":
		logger.Info("connecting to Cassandra",
			slog.Any("nodes", cfg.Cassandra.Nodes),
			slog.String("keyspace", cfg.Cassandra.AuthKeyspace),
		)
		port, err := cfg.Cassandra.Port.Int()
		if err != nil {
			logger.Error("invalid cassandra port", slog.String("error", err.Error()))
			os.Exit(1)
		}
		gateway, err = cluster.New(cluster.Config{
			ClusterName:    cfg.Cassandra.Cluster,
			Hosts:          cfg.Cassandra.Nodes,
			Port:           port,
			Username:       cfg.Cassandra.Username,
			Password:       cfg.Cassandra.Password,
			Consistency:    cfg.Cassandra.Consistency,
			Timeout:        cfg.Cassandra.Timeout.Std(),
			ConnectTimeout: cfg.Cassandra.ConnectTimeout.Std(),
		}, logger)
		if err != nil {
			logger.Error("failed to create cluster gateway", slog.String("error", err.Error()))
			os.Exit(1)
		}

		cassStore, err := cassandra.NewStore(gateway, cassandra.Config{
			Keyspace:    cfg.Cassandra.AuthKeyspace,
			Consistency: cfg.Cassandra.Consistency,
		}, logger)
		if err != nil {
			logger.Error("failed to create cassandra store", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = cassStore

		coordConsistency, err := cluster.ParseConsistency(cfg.Cassandra.CoordinationConsistency)
		if err != nil {
			logger.Error("invalid coordination consistency", slog.String("error", err.Error()))
			os.Exit(1)
		}
		schemaStore := schema.NewCassandraStore(gateway, cfg.Cassandra.AuthKeyspace, coordConsistency)
		catalog := schema.NewCatalog(cfg.Schema.Dir, logger)
		coord = schema.New(schemaStore, catalog, cfg.Cassandra.AuthKeyspace, schema.Options{
			Settle:       cfg.Schema.Settle.Std(),
			PollInterval: cfg.Schema.PollInterval.Std(),
			StaleAfter:   cfg.Schema.StaleAfter.Std(),
			Logger:       logger,
		})
		ddl = schemaStore
		migrator = coord
		migrations = schemaStore

	default:
		logger.Error("unsupported storage type", slog.String("type", cfg.Storage.Type))
		os.Exit(1)
	}

	// Create the auth service
	service := auth.NewServiceWithConfig(store, logger, auth.ServiceConfig{
		SessionKeyTTL: cfg.Auth.SessionKeyTTL.Std(),
	})

	auditLogger, err := auth.NewAuditLogger(cfg.Logging.Audit)
	if err != nil {
		logger.Error("failed to create audit logger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	server, err := api.NewServer(cfg, service, store, logger, api.Options{
		Audit:      auditLogger,
		Migrations: migrations,
		Version:    version,
		Commit:     commit,
		BuildTime:  buildDate,
	})
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Feed schema coordination outcomes into the server's metrics.
	if coord != nil {
		m := server.Metrics()
		coord.OnApplied = func(script string, elapsed time.Duration) {
			m.RecordMigrationApplied(elapsed)
		}
		coord.OnElection = m.RecordElectionRound
	}

	// Prepare the database before serving traffic. For Cassandra this ensures
	// the keyspace and coordination tables, runs or waits out the migration
	// election, and seeds the default org.
	orchestrator := bootstrap.New(cfg, store, service, bootstrap.Options{
		DDL:      ddl,
		Migrator: migrator,
		Audit:    auditLogger,
		Logger:   logger,
	})
	if err := orchestrator.SetupDB(context.Background()); err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	server.SetReady(true)

	// Handle shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutting down", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
		}

		if err := auditLogger.Close(); err != nil {
			logger.Error("audit logger close error", slog.String("error", err.Error()))
		}

		store.Close()
		if gateway != nil {
			gateway.Close()
		}
	}

	logger.Info("shutdown complete", slog.Duration("uptime", meta.Uptime()))
}

// newLogger builds a logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

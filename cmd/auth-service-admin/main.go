// Package main is the entry point for the auth services admin CLI.
package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/bootstrap"
	"github.com/axonops/axonops-auth-service/internal/cluster"
	"github.com/axonops/axonops-auth-service/internal/config"
	"github.com/axonops/axonops-auth-service/internal/schema"
	"github.com/axonops/axonops-auth-service/internal/secrets"
	"github.com/axonops/axonops-auth-service/internal/storage"
	"github.com/axonops/axonops-auth-service/internal/storage/cassandra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	output     string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "auth-service-admin",
		Short: "Admin CLI for the AxonOps auth services API",
		Long: `A command-line tool for operating the auth services API.

Store-backed commands (migrate, user, org, settings, passwd) read the same
configuration file as the server and talk to Cassandra directly. The status
command talks to a running server over HTTP.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	// Migrate command - run keyspace setup and schema migration, then exit
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the keyspace, run pending schema migrations and seed the default org",
		Long: `Run the same database preparation the server performs at startup: ensure
the keyspace and coordination tables exist, request a schema migration (joining
the migration election like any other node), and seed the default organization.

Safe to run repeatedly and concurrently with running servers; exactly one
participant wins the election and executes each pending script.`,
		RunE: runMigrate,
	}

	// User commands
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect users",
	}

	userGetCmd := &cobra.Command{
		Use:   "get <user@org>",
		Short: "Get a user record",
		Args:  cobra.ExactArgs(1),
		RunE:  getUser,
	}

	userCmd.AddCommand(userGetCmd)

	// Org commands
	orgCmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
	}

	orgSettingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage per-org settings",
	}

	orgSettingsGetCmd := &cobra.Command{
		Use:   "get <org> <setting>",
		Short: "Get an org setting",
		Args:  cobra.ExactArgs(2),
		RunE:  getOrgSetting,
	}

	orgSettingsSetCmd := &cobra.Command{
		Use:   "set <org> <setting> <value>",
		Short: "Set an org setting",
		Long: `Set an org setting. Setting registrationOpen to a non-empty value other
than "0" opens the org for unsponsored signups.`,
		Args: cobra.ExactArgs(3),
		RunE: setOrgSetting,
	}

	orgSettingsCmd.AddCommand(orgSettingsGetCmd, orgSettingsSetCmd)
	orgCmd.AddCommand(orgSettingsCmd)

	// Global settings commands
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage global settings",
	}

	settingsGetCmd := &cobra.Command{
		Use:   "get <setting>",
		Short: "Get a global setting",
		Args:  cobra.ExactArgs(1),
		RunE:  getGlobalSetting,
	}

	settingsSetCmd := &cobra.Command{
		Use:   "set <setting> <value>",
		Short: "Set a global setting",
		Args:  cobra.ExactArgs(2),
		RunE:  setGlobalSetting,
	}

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)

	// Passwd command - reset a password directly in the store
	passwdCmd := &cobra.Command{
		Use:   "passwd <user@org>",
		Short: "Reset a user's password directly in the store",
		Long: `Reset a user's password without going through the reset-request flow.
The new password is derived and hashed exactly as a client login would be,
so the user can log in with it immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: resetPassword,
	}
	passwdCmd.Flags().String("password", "", "New password (required)")
	_ = passwdCmd.MarkFlagRequired("password")

	// Status command - query a running server
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running server",
		RunE:  serverStatus,
	}
	statusCmd.Flags().StringP("server", "s", "http://localhost:8080", "Server URL")
	statusCmd.Flags().String("token", "", "Bearer token for JWT-guarded admin endpoints")
	statusCmd.Flags().String("ca-file", "", "CA bundle for verifying the server certificate")
	statusCmd.Flags().Bool("insecure", false, "Skip server certificate verification")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("auth-service-admin %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(migrateCmd, userCmd, orgCmd, settingsCmd, passwdCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// adminEnv bundles the pieces store-backed commands need.
type adminEnv struct {
	cfg     *config.Config
	gateway *cluster.Cluster
	store   storage.Store
	service *auth.Service
	logger  *slog.Logger
}

func (e *adminEnv) Close() {
	e.store.Close()
	e.gateway.Close()
}

// openEnv loads configuration and connects to Cassandra the way the server
// does, Vault credentials included.
func openEnv(ctx context.Context) (*adminEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.Storage.Type != "cassandra" {
		return nil, fmt.Errorf("storage type %q does not support direct store access", cfg.Storage.Type)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	creds, err := secrets.FetchCassandraCredentials(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cassandra credentials from vault: %w", err)
	}
	if creds != nil {
		cfg.Cassandra.Username = creds.Username
		cfg.Cassandra.Password = creds.Password
	}

	port, err := cfg.Cassandra.Port.Int()
	if err != nil {
		return nil, err
	}
	gateway, err := cluster.New(cluster.Config{
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
		return nil, err
	}

	store, err := cassandra.NewStore(gateway, cassandra.Config{
		Keyspace:    cfg.Cassandra.AuthKeyspace,
		Consistency: cfg.Cassandra.Consistency,
	}, logger)
	if err != nil {
		gateway.Close()
		return nil, err
	}

	service := auth.NewServiceWithConfig(store, logger, auth.ServiceConfig{
		SessionKeyTTL: cfg.Auth.SessionKeyTTL.Std(),
	})

	return &adminEnv{cfg: cfg, gateway: gateway, store: store, service: service, logger: logger}, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	cfg := env.cfg
	coordConsistency, err := cluster.ParseConsistency(cfg.Cassandra.CoordinationConsistency)
	if err != nil {
		return err
	}
	schemaStore := schema.NewCassandraStore(env.gateway, cfg.Cassandra.AuthKeyspace, coordConsistency)
	catalog := schema.NewCatalog(cfg.Schema.Dir, env.logger)
	coord := schema.New(schemaStore, catalog, cfg.Cassandra.AuthKeyspace, schema.Options{
		Settle:       cfg.Schema.Settle.Std(),
		PollInterval: cfg.Schema.PollInterval.Std(),
		StaleAfter:   cfg.Schema.StaleAfter.Std(),
		Logger:       env.logger,
	})
	coord.OnExec = func(script string) {
		fmt.Printf("applying %s\n", script)
	}

	orchestrator := bootstrap.New(cfg, env.store, env.service, bootstrap.Options{
		DDL:      schemaStore,
		Migrator: coord,
		Logger:   env.logger,
	})
	if err := orchestrator.SetupDB(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Println("Database is up to date.")
	return nil
}

func getUser(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	username, org, err := auth.SplitPrincipal(args[0])
	if err != nil {
		return err
	}

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	user, err := env.store.GetUser(ctx, org, username)
	if err != nil {
		return fmt.Errorf("failed to get user %s: %w", args[0], err)
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Org:\t%s\n", user.Org)
	fmt.Fprintf(w, "Username:\t%s\n", user.Username)
	fmt.Fprintf(w, "Email:\t%s\n", user.Email)
	fmt.Fprintf(w, "Parent user:\t%s\n", user.ParentUser)
	fmt.Fprintf(w, "Created:\t%s\n", user.CreateDate.Local().Format("2006-01-02 15:04:05"))
	return w.Flush()
}

func getOrgSetting(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	value, err := env.store.GetOrgSetting(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to get setting %s for org %s: %w", args[1], args[0], err)
	}
	fmt.Println(value)
	return nil
}

func setOrgSetting(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	org, setting, value := args[0], args[1], args[2]
	if _, err := env.store.GetOrg(ctx, org); err != nil {
		return fmt.Errorf("failed to look up org %s: %w", org, err)
	}
	if err := env.store.SetOrgSetting(ctx, org, setting, value); err != nil {
		return fmt.Errorf("failed to set setting %s for org %s: %w", setting, org, err)
	}
	fmt.Printf("Setting %s for org %s set to %q.\n", setting, org, value)
	return nil
}

func getGlobalSetting(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	value, err := env.store.GetGlobalSetting(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get global setting %s: %w", args[0], err)
	}
	fmt.Println(value)
	return nil
}

func setGlobalSetting(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.store.SetGlobalSetting(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set global setting %s: %w", args[0], err)
	}
	fmt.Printf("Global setting %s set to %q.\n", args[0], args[1])
	return nil
}

func resetPassword(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	username, org, err := auth.SplitPrincipal(args[0])
	if err != nil {
		return err
	}
	password, _ := cmd.Flags().GetString("password")

	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	exists, err := env.store.UserExists(ctx, org, username)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", args[0], err)
	}
	if !exists {
		return fmt.Errorf("no user matched %s", args[0])
	}

	// Store what the client would send, not the raw password.
	equivalent := auth.PasswordEquivalent(password, username, org)
	if err := env.service.SetPassword(ctx, org, username, equivalent); err != nil {
		return fmt.Errorf("failed to set password for %s: %w", args[0], err)
	}

	fmt.Printf("Password updated for %s.\n", args[0])
	return nil
}

func serverStatus(cmd *cobra.Command, args []string) error {
	serverURL, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	caFile, _ := cmd.Flags().GetString("ca-file")
	insecure, _ := cmd.Flags().GetBool("insecure")

	var tlsConfig *tls.Config
	if caFile != "" || insecure {
		var err error
		tlsConfig, err = auth.CreateClientTLSConfig("", "", caFile, insecure)
		if err != nil {
			return err
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	if tlsConfig != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	url := strings.TrimSuffix(serverURL, "/") + "/admin/status"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req) // #nosec G704 -- admin CLI tool; URL is from user-provided --server flag
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %d", resp.StatusCode)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%v\n", status["version"])
	if v, ok := status["commit"]; ok {
		fmt.Fprintf(w, "Commit:\t%v\n", v)
	}
	if v, ok := status["build_time"]; ok {
		fmt.Fprintf(w, "Built:\t%v\n", v)
	}
	fmt.Fprintf(w, "Storage:\t%v\n", status["storage"])
	if v, ok := status["keyspace"]; ok {
		fmt.Fprintf(w, "Keyspace:\t%v\n", v)
	}
	if v, ok := status["cluster"]; ok {
		fmt.Fprintf(w, "Cluster:\t%v\n", v)
	}
	fmt.Fprintf(w, "Ready:\t%v\n", status["ready"])
	fmt.Fprintf(w, "Store:\t%v\n", status["store"])
	if v, ok := status["pending_migration_requests"]; ok {
		fmt.Fprintf(w, "Pending migration requests:\t%v\n", v)
	}
	return w.Flush()
}

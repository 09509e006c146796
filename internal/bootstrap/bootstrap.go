// Package bootstrap brings a freshly started node to a serving state: the
// keyspace exists, the coordination tables are in place, the schema is
// current, and the default org with its admin account is seeded.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/config"
	"github.com/axonops/axonops-auth-service/internal/storage"
)

// DefaultOrgSetting is the global setting naming the org new deployments
// enroll into.
const DefaultOrgSetting = "defaultorg"

// AdminsSetting is the org setting listing the org's administrators.
const AdminsSetting = "admins"

// DDL creates the keyspace level objects the election depends on. The
// Cassandra coordination store implements it; memory deployments have none.
type DDL interface {
	EnsureKeyspace(ctx context.Context, replicationClass string, replicationFactor int) error
	EnsureCoordinationTables(ctx context.Context) error
}

// Migrator runs the schema election and applies pending scripts.
type Migrator interface {
	RequestMigration(ctx context.Context) error
}

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	// DDL and Migrator are nil for memory deployments; bootstrap then only
	// seeds the default org.
	DDL      DDL
	Migrator Migrator
	// Audit, when non-nil, records a bootstrap.completed event on success.
	Audit  *auth.AuditLogger
	Logger *slog.Logger
}

// Orchestrator runs the startup sequence. Every step is idempotent, so it is
// safe to run on each start and with many nodes starting at once.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	service  *auth.Service
	ddl      DDL
	migrator Migrator
	audit    *auth.AuditLogger
	logger   *slog.Logger

	sleep func(time.Duration)
}

// New creates an orchestrator.
func New(cfg *config.Config, store storage.Store, svc *auth.Service, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		service:  svc,
		ddl:      opts.DDL,
		migrator: opts.Migrator,
		audit:    opts.Audit,
		logger:   logger.With(slog.String("component", "bootstrap")),
		sleep:    time.Sleep,
	}
}

// SetupDB brings the datastore to a serving state.
func (o *Orchestrator) SetupDB(ctx context.Context) error {
	start := time.Now()

	if o.ddl != nil {
		if err := o.ddl.EnsureKeyspace(ctx, o.cfg.Cassandra.ReplicationClass, o.cfg.Cassandra.ReplicationFactor); err != nil {
			return fmt.Errorf("failed to ensure keyspace: %w", err)
		}
		if err := o.ddl.EnsureCoordinationTables(ctx); err != nil {
			return fmt.Errorf("failed to ensure coordination tables: %w", err)
		}
		// Newly created tables need a moment to propagate before the first
		// election reads them.
		o.sleep(o.cfg.Schema.CreateWait.Std())
	}

	if o.migrator != nil {
		if err := o.migrator.RequestMigration(ctx); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	if err := o.createDefaultOrg(ctx); err != nil {
		return err
	}

	o.logger.Info("bootstrap complete", slog.Duration("elapsed", time.Since(start)))
	if o.audit != nil {
		o.audit.Log(&auth.AuditEvent{
			Timestamp: time.Now(),
			EventType: auth.AuditEventBootstrapCompleted,
			Duration:  time.Since(start),
		})
	}
	return nil
}

// createDefaultOrg seeds the default org and its admin account. Each write
// happens only when the row is missing, so restarts never clobber operator
// changes.
func (o *Orchestrator) createDefaultOrg(ctx context.Context) error {
	name := o.cfg.DefaultOrg.Name
	if name == "" {
		return nil
	}

	org, err := o.store.GetGlobalSetting(ctx, DefaultOrgSetting)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read defaultorg setting: %w", err)
		}
		if err := o.store.SetGlobalSetting(ctx, DefaultOrgSetting, name); err != nil {
			return fmt.Errorf("failed to set defaultorg setting: %w", err)
		}
		o.logger.Info("default org setting written", slog.String("org", name))
		org = name
	}

	// An operator may have pointed defaultorg at another org already; the
	// rest of the seeding follows the setting, not the config.
	if _, err := o.store.GetOrg(ctx, org); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read default org: %w", err)
		}
		if err := o.store.CreateOrg(ctx, org, ""); err != nil {
			return fmt.Errorf("failed to create default org: %w", err)
		}
		o.logger.Info("default org created", slog.String("org", org))
	}

	adminUser := o.cfg.DefaultOrg.DefaultAdminUser
	if adminUser == "" {
		return nil
	}

	if _, err := o.store.GetOrgSetting(ctx, org, AdminsSetting); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to read admins setting: %w", err)
		}
		if err := o.store.SetOrgSetting(ctx, org, AdminsSetting, adminUser+"@"+org); err != nil {
			return fmt.Errorf("failed to set admins setting: %w", err)
		}
	}

	exists, err := o.store.UserExists(ctx, org, adminUser)
	if err != nil {
		return fmt.Errorf("failed to check admin user: %w", err)
	}
	if exists {
		return nil
	}

	if err := o.store.CreateUser(ctx, org, adminUser, o.cfg.DefaultOrg.DefaultAdminEmail, "", storage.WriteOptions{Consistency: "QUORUM"}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	// The configured password is what the admin will type. Clients send its
	// PBKDF2 equivalent over the wire, so that is what gets salted and
	// hashed at rest.
	equivalent := auth.PasswordEquivalent(o.cfg.DefaultOrg.DefaultAdminPass, adminUser, org)
	if err := o.service.SetPassword(ctx, org, adminUser, equivalent); err != nil {
		return fmt.Errorf("failed to set admin password: %w", err)
	}

	o.logger.Info("default admin user created",
		slog.String("org", org),
		slog.String("username", adminUser))
	return nil
}

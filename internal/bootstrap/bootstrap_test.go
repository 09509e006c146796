package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/axonops/axonops-auth-service/internal/auth"
	"github.com/axonops/axonops-auth-service/internal/config"
	"github.com/axonops/axonops-auth-service/internal/schema"
	"github.com/axonops/axonops-auth-service/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "memory"
	return cfg
}

type recordingDDL struct {
	order *[]string
	err   error
}

func (d *recordingDDL) EnsureKeyspace(ctx context.Context, class string, rf int) error {
	*d.order = append(*d.order, "keyspace")
	return d.err
}

func (d *recordingDDL) EnsureCoordinationTables(ctx context.Context) error {
	*d.order = append(*d.order, "tables")
	return d.err
}

type recordingMigrator struct {
	order *[]string
	err   error
}

func (m *recordingMigrator) RequestMigration(ctx context.Context) error {
	*m.order = append(*m.order, "migrate")
	return m.err
}

func TestSetupDB_SeedsDefaultOrg(t *testing.T) {
	cfg := testConfig()
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())
	o := New(cfg, store, svc, Options{Logger: discardLogger()})

	if err := o.SetupDB(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if v, err := store.GetGlobalSetting(ctx, DefaultOrgSetting); err != nil || v != "example.net" {
		t.Errorf("expected defaultorg example.net, got %q, %v", v, err)
	}
	if _, err := store.GetOrg(ctx, "example.net"); err != nil {
		t.Errorf("expected default org to exist, got %v", err)
	}
	if v, err := store.GetOrgSetting(ctx, "example.net", AdminsSetting); err != nil || v != "admin@example.net" {
		t.Errorf("expected admins setting %q, got %q, %v", "admin@example.net", v, err)
	}

	// The admin logs in with the PBKDF2 equivalent of the configured
	// password, like any client would.
	equivalent := auth.PasswordEquivalent("admin", "admin", "example.net")
	if _, _, err := svc.Login(ctx, "example.net", "admin", equivalent); err != nil {
		t.Errorf("expected admin login to succeed, got %v", err)
	}
}

func TestSetupDB_Idempotent(t *testing.T) {
	cfg := testConfig()
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())
	o := New(cfg, store, svc, Options{Logger: discardLogger()})

	ctx := context.Background()
	if err := o.SetupDB(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// An operator rotates the admin password and repoints the default org.
	if err := svc.SetPassword(ctx, "example.net", "admin", "rotated"); err != nil {
		t.Fatalf("failed to rotate password: %v", err)
	}
	if err := store.SetGlobalSetting(ctx, DefaultOrgSetting, "other.org"); err != nil {
		t.Fatalf("failed to change setting: %v", err)
	}

	if err := o.SetupDB(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// Restarts must not clobber operator changes.
	if v, _ := store.GetGlobalSetting(ctx, DefaultOrgSetting); v != "other.org" {
		t.Errorf("expected defaultorg to stay other.org, got %q", v)
	}
	if _, _, err := svc.Login(ctx, "example.net", "admin", "rotated"); err != nil {
		t.Errorf("expected rotated password to survive, got %v", err)
	}

	// Seeding follows the repointed setting, so the second run provisions
	// the org it now names.
	if _, err := store.GetOrg(ctx, "other.org"); err != nil {
		t.Errorf("expected repointed org to be created, got %v", err)
	}
	if v, _ := store.GetOrgSetting(ctx, "other.org", AdminsSetting); v != "admin@other.org" {
		t.Errorf("expected admins setting %q, got %q", "admin@other.org", v)
	}
}

func TestSetupDB_OrderAndCreateWait(t *testing.T) {
	cfg := testConfig()
	cfg.Schema.CreateWait = config.Duration(time.Second)
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())

	var order []string
	o := New(cfg, store, svc, Options{
		DDL:      &recordingDDL{order: &order},
		Migrator: &recordingMigrator{order: &order},
		Logger:   discardLogger(),
	})
	var slept time.Duration
	o.sleep = func(d time.Duration) {
		slept = d
		order = append(order, "wait")
	}

	if err := o.SetupDB(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"keyspace", "tables", "wait", "migrate"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if slept != time.Second {
		t.Errorf("expected 1s create wait, got %v", slept)
	}
}

func TestSetupDB_DDLFailure(t *testing.T) {
	cfg := testConfig()
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())

	var order []string
	o := New(cfg, store, svc, Options{
		DDL:    &recordingDDL{order: &order, err: errors.New("keyspace refused")},
		Logger: discardLogger(),
	})
	o.sleep = func(time.Duration) {}

	if err := o.SetupDB(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// Seeding must not have run.
	if _, err := store.GetOrg(context.Background(), "example.net"); err == nil {
		t.Error("expected org seeding to be skipped after DDL failure")
	}
}

func TestSetupDB_MigrationFailure(t *testing.T) {
	cfg := testConfig()
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())

	var order []string
	o := New(cfg, store, svc, Options{
		Migrator: &recordingMigrator{order: &order, err: errors.New("election lost the cluster")},
		Logger:   discardLogger(),
	})

	if err := o.SetupDB(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetupDB_WithCoordinator(t *testing.T) {
	dir := t.TempDir()
	baseline := filepath.Join(dir, "authdb", "baseline")
	if err := os.MkdirAll(baseline, 0o755); err != nil {
		t.Fatalf("failed to create baseline dir: %v", err)
	}
	script := "CREATE TABLE IF NOT EXISTS authdb.users (\n\torg text,\n\tusername text,\n\tPRIMARY KEY (org, username)\n);\n"
	if err := os.WriteFile(filepath.Join(baseline, "users.cql"), []byte(script), 0o644); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	cfg := testConfig()
	cfg.Schema.Dir = dir
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())

	coordStore := schema.NewMemStore()
	catalog := schema.NewCatalog(dir, discardLogger())
	coord := schema.New(coordStore, catalog, "authdb", schema.Options{
		Settle:       10 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Logger:       discardLogger(),
	})

	o := New(cfg, store, svc, Options{Migrator: coord, Logger: discardLogger()})
	if err := o.SetupDB(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exists, err := coordStore.TableExists(context.Background(), "users")
	if err != nil {
		t.Fatalf("failed to check table: %v", err)
	}
	if !exists {
		t.Error("expected users table after migration")
	}
}

func TestSetupDB_AuditEvent(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "audit.log")
	al, err := auth.NewAuditLogger(config.AuditConfig{Enabled: true, File: logFile})
	if err != nil {
		t.Fatalf("failed to create audit logger: %v", err)
	}
	defer al.Close()

	cfg := testConfig()
	store := memory.NewStore()
	svc := auth.NewService(store, discardLogger())
	o := New(cfg, store, svc, Options{Audit: al, Logger: discardLogger()})

	if err := o.SetupDB(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read audit log: %v", err)
	}
	if !strings.Contains(string(data), string(auth.AuditEventBootstrapCompleted)) {
		t.Errorf("expected %s event in audit log", auth.AuditEventBootstrapCompleted)
	}
}

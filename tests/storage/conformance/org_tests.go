package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// RunOrgTests tests org operations.
func RunOrgTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateAndGetOrg", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateOrg(ctx, "example.net", ""); err != nil {
			t.Fatalf("CreateOrg: %v", err)
		}
		o, err := store.GetOrg(ctx, "example.net")
		if err != nil {
			t.Fatalf("GetOrg: %v", err)
		}
		if o.Name != "example.net" || o.ParentOrg != "" {
			t.Errorf("got org %+v, want example.net with no parent", o)
		}
	})

	t.Run("CreateOrgWithParent", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateOrg(ctx, "child.example.net", "example.net"); err != nil {
			t.Fatalf("CreateOrg: %v", err)
		}
		o, err := store.GetOrg(ctx, "child.example.net")
		if err != nil {
			t.Fatalf("GetOrg: %v", err)
		}
		if o.ParentOrg != "example.net" {
			t.Errorf("parentorg = %q, want example.net", o.ParentOrg)
		}
	})

	t.Run("GetOrgNotFound", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		_, err := store.GetOrg(context.Background(), "missing.example")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// RunSettingsTests tests org-scoped and global settings.
func RunSettingsTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("OrgSettingRoundTrip", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.SetOrgSetting(ctx, "example.net", "registrationOpen", "1"); err != nil {
			t.Fatalf("SetOrgSetting: %v", err)
		}
		value, err := store.GetOrgSetting(ctx, "example.net", "registrationOpen")
		if err != nil {
			t.Fatalf("GetOrgSetting: %v", err)
		}
		if value != "1" {
			t.Errorf("value = %q, want 1", value)
		}
	})

	t.Run("OrgSettingOverwrite", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.SetOrgSetting(ctx, "example.net", "registrationOpen", "1"); err != nil {
			t.Fatalf("SetOrgSetting: %v", err)
		}
		if err := store.SetOrgSetting(ctx, "example.net", "registrationOpen", "0"); err != nil {
			t.Fatalf("SetOrgSetting: %v", err)
		}
		value, err := store.GetOrgSetting(ctx, "example.net", "registrationOpen")
		if err != nil || value != "0" {
			t.Errorf("value = %q (err=%v), want 0", value, err)
		}
	})

	t.Run("OrgSettingNotFound", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		_, err := store.GetOrgSetting(context.Background(), "example.net", "unset")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("OrgSettingsAreScoped", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.SetOrgSetting(ctx, "one.example", "theme", "dark"); err != nil {
			t.Fatalf("SetOrgSetting: %v", err)
		}
		_, err := store.GetOrgSetting(ctx, "two.example", "theme")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("setting leaked across orgs (err=%v)", err)
		}
	})

	t.Run("GlobalSettingRoundTrip", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.SetGlobalSetting(ctx, "maintenance", "off"); err != nil {
			t.Fatalf("SetGlobalSetting: %v", err)
		}
		value, err := store.GetGlobalSetting(ctx, "maintenance")
		if err != nil || value != "off" {
			t.Errorf("value = %q (err=%v), want off", value, err)
		}
		_, err = store.GetGlobalSetting(ctx, "unset")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

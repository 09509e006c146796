// Package conformance provides a shared test suite that every storage backend must pass.
// Usage: call RunAll(t, factory) where factory creates a fresh store for each sub-test.
package conformance

import (
	"testing"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// StoreFactory creates a fresh, empty storage.Store for each sub-test.
type StoreFactory func() storage.Store

// RunAll runs every conformance test category against the given store factory.
func RunAll(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("Users", func(t *testing.T) { RunUserTests(t, newStore) })
	t.Run("Orgs", func(t *testing.T) { RunOrgTests(t, newStore) })
	t.Run("Settings", func(t *testing.T) { RunSettingsTests(t, newStore) })
	t.Run("Credentials", func(t *testing.T) { RunCredentialTests(t, newStore) })
	t.Run("PasswordResets", func(t *testing.T) { RunPasswordResetTests(t, newStore) })
	t.Run("Sessions", func(t *testing.T) { RunSessionTests(t, newStore) })
	t.Run("SessionKeys", func(t *testing.T) { RunSessionKeyTests(t, newStore) })
}

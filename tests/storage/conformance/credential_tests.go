package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// RunCredentialTests tests hash and salt storage.
func RunCredentialTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("SetAndGetPassword", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateUser(ctx, "example.net", "alice", "", "", storage.WriteOptions{}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := store.SetPassword(ctx, "example.net", "alice", "deadbeef", "pepper"); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		hash, err := store.GetUserHash(ctx, "example.net", "alice")
		if err != nil || hash != "deadbeef" {
			t.Errorf("hash = %q (err=%v), want deadbeef", hash, err)
		}
		salt, err := store.GetUserSalt(ctx, "example.net", "alice")
		if err != nil || salt != "pepper" {
			t.Errorf("salt = %q (err=%v), want pepper", salt, err)
		}
	})

	t.Run("PasswordChangeReplacesBoth", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateUser(ctx, "example.net", "alice", "", "", storage.WriteOptions{}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := store.SetPassword(ctx, "example.net", "alice", "h1", "s1"); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		if err := store.SetPassword(ctx, "example.net", "alice", "h2", "s2"); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
		hash, _ := store.GetUserHash(ctx, "example.net", "alice")
		salt, _ := store.GetUserSalt(ctx, "example.net", "alice")
		if hash != "h2" || salt != "s2" {
			t.Errorf("hash/salt = %q/%q, want h2/s2", hash, salt)
		}
	})

	t.Run("HashForUnknownUser", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		_, err := store.GetUserHash(context.Background(), "example.net", "nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("HashForUserWithoutPassword", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateUser(ctx, "example.net", "fresh", "", "", storage.WriteOptions{}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		hash, err := store.GetUserHash(ctx, "example.net", "fresh")
		if err != nil {
			t.Fatalf("GetUserHash: %v", err)
		}
		if hash != "" {
			t.Errorf("hash = %q, want empty for passwordless user", hash)
		}
	})
}

// RunPasswordResetTests tests the reset request lifecycle.
func RunPasswordResetTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateReturnsUUID", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		resetid, err := store.CreatePasswordReset(context.Background(), "example.net", "alice")
		if err != nil {
			t.Fatalf("CreatePasswordReset: %v", err)
		}
		if _, err := uuid.Parse(resetid); err != nil {
			t.Errorf("resetid %q is not a UUID: %v", resetid, err)
		}
	})

	t.Run("ValidateMatchingReset", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		resetid, err := store.CreatePasswordReset(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreatePasswordReset: %v", err)
		}
		valid, err := store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
		if err != nil || !valid {
			t.Errorf("fresh reset invalid (valid=%v err=%v)", valid, err)
		}
		valid, err = store.ValidatePasswordReset(ctx, "example.net", "alice", uuid.New().String())
		if err != nil || valid {
			t.Errorf("wrong resetid validated (valid=%v err=%v)", valid, err)
		}
		valid, err = store.ValidatePasswordReset(ctx, "example.net", "nobody", resetid)
		if err != nil || valid {
			t.Errorf("reset validated for user without one (valid=%v err=%v)", valid, err)
		}
	})

	t.Run("SecondResetReplacesFirst", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		first, err := store.CreatePasswordReset(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreatePasswordReset: %v", err)
		}
		second, err := store.CreatePasswordReset(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreatePasswordReset: %v", err)
		}
		valid, _ := store.ValidatePasswordReset(ctx, "example.net", "alice", first)
		if valid {
			t.Error("superseded resetid still valid")
		}
		valid, _ = store.ValidatePasswordReset(ctx, "example.net", "alice", second)
		if !valid {
			t.Error("latest resetid invalid")
		}
	})

	t.Run("DeleteReset", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		resetid, err := store.CreatePasswordReset(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreatePasswordReset: %v", err)
		}
		if err := store.DeletePasswordReset(ctx, "example.net", "alice"); err != nil {
			t.Fatalf("DeletePasswordReset: %v", err)
		}
		if _, err := store.GetPasswordReset(ctx, "example.net", "alice"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
		valid, err := store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
		if err != nil || valid {
			t.Errorf("deleted reset validated (valid=%v err=%v)", valid, err)
		}
	})
}

package conformance

import (
	"context"
	"errors"
	"testing"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// RunUserTests tests user CRUD operations.
func RunUserTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateAndGetUser", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		err := store.CreateUser(ctx, "example.net", "alice", "alice@example.net", "", storage.WriteOptions{})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		u, err := store.GetUser(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if u.Org != "example.net" || u.Username != "alice" {
			t.Errorf("got user %q@%q, want alice@example.net", u.Username, u.Org)
		}
		if u.Email != "alice@example.net" {
			t.Errorf("email = %q, want alice@example.net", u.Email)
		}
		if u.CreateDate.IsZero() {
			t.Error("createdate not set")
		}
	})

	t.Run("CreateUserWithParent", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		err := store.CreateUser(ctx, "example.net", "service1", "", "admin@example.net", storage.WriteOptions{})
		if err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		u, err := store.GetUser(ctx, "example.net", "service1")
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if u.ParentUser != "admin@example.net" {
			t.Errorf("parentuser = %q, want admin@example.net", u.ParentUser)
		}
	})

	t.Run("CreateUserQuorum", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		err := store.CreateUser(ctx, "example.net", "bob", "bob@example.net", "",
			storage.WriteOptions{Consistency: "QUORUM"})
		if err != nil {
			t.Fatalf("CreateUser at QUORUM: %v", err)
		}
		exists, err := store.UserExists(ctx, "example.net", "bob")
		if err != nil || !exists {
			t.Errorf("user missing after quorum create (exists=%v err=%v)", exists, err)
		}
	})

	t.Run("GetUserNotFound", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		_, err := store.GetUser(context.Background(), "example.net", "nobody")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("UserExists", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		exists, err := store.UserExists(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("UserExists: %v", err)
		}
		if exists {
			t.Error("user exists before creation")
		}
		if err := store.CreateUser(ctx, "example.net", "alice", "", "", storage.WriteOptions{}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		exists, err = store.UserExists(ctx, "example.net", "alice")
		if err != nil || !exists {
			t.Errorf("user missing after creation (exists=%v err=%v)", exists, err)
		}
	})

	t.Run("SameUsernameDifferentOrgs", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		if err := store.CreateUser(ctx, "one.example", "admin", "", "", storage.WriteOptions{}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		exists, err := store.UserExists(ctx, "two.example", "admin")
		if err != nil {
			t.Fatalf("UserExists: %v", err)
		}
		if exists {
			t.Error("username leaked across orgs")
		}
	})
}

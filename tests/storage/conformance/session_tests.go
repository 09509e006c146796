package conformance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// RunSessionTests tests session CRUD operations.
func RunSessionTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("CreateAssignsSessionID", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		sess, err := store.CreateUserSession(context.Background(), "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		if _, err := uuid.Parse(sess.SessionID); err != nil {
			t.Errorf("sessionid %q is not a UUID: %v", sess.SessionID, err)
		}
		if sess.StartDate.IsZero() || sess.LastUpdate.IsZero() {
			t.Errorf("dates not set: %+v", sess)
		}
	})

	t.Run("ListSessionsForUser", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		s1, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		s2, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		if _, err := store.CreateUserSession(ctx, "example.net", "bob"); err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}

		sessions, err := store.GetUserSessions(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("GetUserSessions: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("got %d sessions, want 2", len(sessions))
		}
		ids := map[string]bool{}
		for _, s := range sessions {
			ids[s.SessionID] = true
		}
		if !ids[s1.SessionID] || !ids[s2.SessionID] {
			t.Errorf("missing sessions in %v", ids)
		}
	})

	t.Run("GetSpecificSession", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		created, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		got, err := store.GetUserSession(ctx, "example.net", "alice", created.SessionID)
		if err != nil {
			t.Fatalf("GetUserSession: %v", err)
		}
		if got.SessionID != created.SessionID {
			t.Errorf("sessionid = %q, want %q", got.SessionID, created.SessionID)
		}

		_, err = store.GetUserSession(ctx, "example.net", "alice", uuid.New().String())
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("GarbageSessionIDRejected", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		_, err := store.GetUserSession(context.Background(), "example.net", "alice", "not-a-uuid")
		if err == nil {
			t.Error("GetUserSession accepted a malformed sessionid")
		}
	})

	t.Run("TouchSession", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		created, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
		if err := store.TouchSession(ctx, "example.net", "alice", created.SessionID); err != nil {
			t.Fatalf("TouchSession: %v", err)
		}
		got, err := store.GetUserSession(ctx, "example.net", "alice", created.SessionID)
		if err != nil {
			t.Fatalf("GetUserSession: %v", err)
		}
		if got.LastUpdate.Before(created.LastUpdate) {
			t.Errorf("lastupdate went backwards: %v -> %v", created.LastUpdate, got.LastUpdate)
		}
	})

	t.Run("DeleteSession", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		created, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		if err := store.DeleteSession(ctx, "example.net", "alice", created.SessionID); err != nil {
			t.Fatalf("DeleteSession: %v", err)
		}
		_, err = store.GetUserSession(ctx, "example.net", "alice", created.SessionID)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// RunSessionKeyTests tests session key operations.
func RunSessionKeyTests(t *testing.T, newStore StoreFactory) {
	t.Helper()

	newSessionWithKey := func(t *testing.T, store storage.Store, key string) *storage.Session {
		t.Helper()
		ctx := context.Background()
		sess, err := store.CreateUserSession(ctx, "example.net", "alice")
		if err != nil {
			t.Fatalf("CreateUserSession: %v", err)
		}
		err = store.CreateSessionKey(ctx, &storage.SessionKey{
			Key:       key,
			Org:       "example.net",
			Username:  "alice",
			SessionID: sess.SessionID,
			Expiry:    time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateSessionKey: %v", err)
		}
		return sess
	}

	t.Run("CreateAndGetKey", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		sess := newSessionWithKey(t, store, "key-roundtrip")
		sk, err := store.GetSessionKey(context.Background(), "key-roundtrip")
		if err != nil {
			t.Fatalf("GetSessionKey: %v", err)
		}
		if sk.SessionID != sess.SessionID || sk.Org != "example.net" || sk.Username != "alice" {
			t.Errorf("key record mismatch: %+v", sk)
		}
	})

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		err := store.CreateSessionKey(context.Background(), &storage.SessionKey{Key: ""})
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("err = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("ValidateKey", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		newSessionWithKey(t, store, "key-validate")
		valid, user, org, err := store.ValidateSessionKey(context.Background(), "key-validate")
		if err != nil {
			t.Fatalf("ValidateSessionKey: %v", err)
		}
		if !valid || user != "alice" || org != "example.net" {
			t.Errorf("got (%v, %q, %q), want (true, alice, example.net)", valid, user, org)
		}
	})

	t.Run("UnknownKeyInvalid", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		valid, user, org, err := store.ValidateSessionKey(context.Background(), "never-issued")
		if err != nil {
			t.Fatalf("ValidateSessionKey: %v", err)
		}
		if valid || user != "" || org != "" {
			t.Errorf("got (%v, %q, %q), want (false, \"\", \"\")", valid, user, org)
		}
	})

	t.Run("DeleteKey", func(t *testing.T) {
		store := newStore()
		defer store.Close()
		ctx := context.Background()

		newSessionWithKey(t, store, "key-delete")
		if err := store.DeleteSessionKey(ctx, "key-delete"); err != nil {
			t.Fatalf("DeleteSessionKey: %v", err)
		}
		valid, _, _, err := store.ValidateSessionKey(ctx, "key-delete")
		if err != nil || valid {
			t.Errorf("deleted key still valid (valid=%v err=%v)", valid, err)
		}
	})

	t.Run("ResolveSessionByKey", func(t *testing.T) {
		store := newStore()
		defer store.Close()

		sess := newSessionWithKey(t, store, "key-resolve")
		got, err := store.GetUserSessionByKey(context.Background(), "key-resolve")
		if err != nil {
			t.Fatalf("GetUserSessionByKey: %v", err)
		}
		if got.SessionID != sess.SessionID {
			t.Errorf("sessionid = %q, want %q", got.SessionID, sess.SessionID)
		}
	})
}

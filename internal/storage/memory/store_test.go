package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

func TestSetPasswordWithoutUserUpserts(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.SetPassword(ctx, "example.net", "ghost", "hash", "salt"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	hash, err := store.GetUserHash(ctx, "example.net", "ghost")
	if err != nil {
		t.Fatalf("GetUserHash: %v", err)
	}
	if hash != "hash" {
		t.Errorf("hash = %q, want %q", hash, "hash")
	}
}

func TestPasswordResetLifecycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	resetid, err := store.CreatePasswordReset(ctx, "example.net", "alice")
	if err != nil {
		t.Fatalf("CreatePasswordReset: %v", err)
	}
	if resetid == "" {
		t.Fatal("empty resetid")
	}

	valid, err := store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
	if err != nil || !valid {
		t.Errorf("fresh reset invalid (valid=%v err=%v)", valid, err)
	}
	valid, err = store.ValidatePasswordReset(ctx, "example.net", "alice", "not-the-id")
	if err != nil || valid {
		t.Errorf("mismatched resetid validated (valid=%v err=%v)", valid, err)
	}
	valid, err = store.ValidatePasswordReset(ctx, "example.net", "bob", resetid)
	if err != nil || valid {
		t.Errorf("reset validated for wrong user (valid=%v err=%v)", valid, err)
	}

	if err := store.DeletePasswordReset(ctx, "example.net", "alice"); err != nil {
		t.Fatalf("DeletePasswordReset: %v", err)
	}
	valid, err = store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
	if err != nil || valid {
		t.Errorf("deleted reset validated (valid=%v err=%v)", valid, err)
	}
}

func TestPasswordResetExpiresAfterSevenDays(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := start
	store.SetClock(func() time.Time { return current })

	resetid, err := store.CreatePasswordReset(ctx, "example.net", "alice")
	if err != nil {
		t.Fatalf("CreatePasswordReset: %v", err)
	}

	current = start.Add(storage.ResetValidity - time.Second)
	valid, _ := store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
	if !valid {
		t.Error("reset invalid just inside the validity window")
	}

	current = start.Add(storage.ResetValidity + time.Second)
	valid, _ = store.ValidatePasswordReset(ctx, "example.net", "alice", resetid)
	if valid {
		t.Error("reset still valid after the validity window")
	}
}

func TestSessionKeyExpiry(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := start
	store.SetClock(func() time.Time { return current })

	sess, err := store.CreateUserSession(ctx, "example.net", "alice")
	if err != nil {
		t.Fatalf("CreateUserSession: %v", err)
	}
	if err := store.CreateSessionKey(ctx, &storage.SessionKey{
		Key:       "opaque-key",
		Org:       "example.net",
		Username:  "alice",
		SessionID: sess.SessionID,
		Expiry:    start.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateSessionKey: %v", err)
	}

	valid, user, org, err := store.ValidateSessionKey(ctx, "opaque-key")
	if err != nil || !valid || user != "alice" || org != "example.net" {
		t.Errorf("fresh key invalid (valid=%v user=%q org=%q err=%v)", valid, user, org, err)
	}

	current = start.Add(25 * time.Hour)
	valid, user, org, err = store.ValidateSessionKey(ctx, "opaque-key")
	if err != nil || valid || user != "" || org != "" {
		t.Errorf("expired key accepted (valid=%v user=%q org=%q err=%v)", valid, user, org, err)
	}

	valid, user, org, err = store.ValidateSessionKey(ctx, "never-issued")
	if err != nil || valid || user != "" || org != "" {
		t.Errorf("unknown key accepted (valid=%v user=%q org=%q err=%v)", valid, user, org, err)
	}
}

func TestDeleteSessionKeysRemovesAllForSession(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	s1, _ := store.CreateUserSession(ctx, "example.net", "alice")
	s2, _ := store.CreateUserSession(ctx, "example.net", "alice")
	keys := []*storage.SessionKey{
		{Key: "k1", Org: "example.net", Username: "alice", SessionID: s1.SessionID},
		{Key: "k2", Org: "example.net", Username: "alice", SessionID: s1.SessionID},
		{Key: "k3", Org: "example.net", Username: "alice", SessionID: s2.SessionID},
	}
	for _, k := range keys {
		if err := store.CreateSessionKey(ctx, k); err != nil {
			t.Fatalf("CreateSessionKey(%s): %v", k.Key, err)
		}
	}

	if err := store.DeleteSessionKeys(ctx, s1.SessionID); err != nil {
		t.Fatalf("DeleteSessionKeys: %v", err)
	}
	for _, key := range []string{"k1", "k2"} {
		if _, err := store.GetSessionKey(ctx, key); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("key %q survived session key purge (err=%v)", key, err)
		}
	}
	if _, err := store.GetSessionKey(ctx, "k3"); err != nil {
		t.Errorf("key for other session deleted: %v", err)
	}
}

func TestGetUserSessionByKey(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	sess, _ := store.CreateUserSession(ctx, "example.net", "alice")
	if err := store.CreateSessionKey(ctx, &storage.SessionKey{
		Key: "k", Org: "example.net", Username: "alice", SessionID: sess.SessionID,
	}); err != nil {
		t.Fatalf("CreateSessionKey: %v", err)
	}

	got, err := store.GetUserSessionByKey(ctx, "k")
	if err != nil {
		t.Fatalf("GetUserSessionByKey: %v", err)
	}
	if got.SessionID != sess.SessionID {
		t.Errorf("sessionid = %q, want %q", got.SessionID, sess.SessionID)
	}
	if _, err := store.GetUserSessionByKey(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown key error = %v, want ErrNotFound", err)
	}
}

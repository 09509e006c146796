package schema

import (
	"context"
	"testing"
	"time"
)

func TestMemStoreTracksCreatedTables(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	err := s.ExecCQL(ctx, `CREATE TABLE IF NOT EXISTS "authdb".sessions (
  org text,
  PRIMARY KEY (org)
);
CREATE INDEX IF NOT EXISTS ON sessions (sessionid);
`)
	if err != nil {
		t.Fatalf("ExecCQL: %v", err)
	}
	exists, err := s.TableExists(ctx, "sessions")
	if err != nil || !exists {
		t.Errorf("sessions not tracked (exists=%v err=%v)", exists, err)
	}
	exists, _ = s.TableExists(ctx, "users")
	if exists {
		t.Error("users reported existing without creation")
	}
}

func TestMemStoreFailPattern(t *testing.T) {
	s := NewMemStore()
	s.FailPattern = "broken"
	if err := s.ExecCQL(context.Background(), "ALTER TABLE broken ADD x text"); err == nil {
		t.Error("ExecCQL succeeded, want failure")
	}
	if err := s.ExecCQL(context.Background(), "ALTER TABLE fine ADD x text"); err != nil {
		t.Errorf("ExecCQL: %v", err)
	}
}

func TestMemStoreMarkHistoryUnknownEntry(t *testing.T) {
	s := NewMemStore()
	err := s.MarkHistory(context.Background(), "missing.cql", time.Now(), true, false, "")
	if err == nil {
		t.Error("MarkHistory succeeded for unknown entry")
	}
}

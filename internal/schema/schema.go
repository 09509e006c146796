// Package schema manages the authentication keyspace schema: it discovers
// baseline and migration scripts on disk, elects a single migrator among
// concurrently starting nodes, executes the scripts exactly once, and lets
// every other node wait for the winner to finish.
package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request is a row in the schema_migration_requests table. Each node that
// wants to run migrations inserts one; the oldest request wins the election.
type Request struct {
	ReqID      uuid.UUID
	ReqTime    time.Time
	InProgress bool
	Failed     bool
	LastUpdate time.Time
}

// HistoryEntry is a row in the schema_migrations table. A script counts as
// applied when its latest entry has Run set and Failed clear.
type HistoryEntry struct {
	ScriptName string
	Time       time.Time
	Run        bool
	Failed     bool
	Error      string
	Content    string
}

// Store is the coordination surface the migrator drives. Implementations
// exist for Cassandra and, for tests, in memory.
type Store interface {
	// Requests returns every live row of the request table.
	Requests(ctx context.Context) ([]Request, error)

	// InsertRequest adds this node's candidacy row.
	InsertRequest(ctx context.Context, req Request) error

	// UpdateRequest rewrites the inprogress, failed and lastupdate columns
	// of the row identified by req.ReqID.
	UpdateRequest(ctx context.Context, req Request) error

	// DeleteRequest removes the row identified by reqid.
	DeleteRequest(ctx context.Context, reqid uuid.UUID) error

	// History returns all recorded attempts for a script, oldest first.
	History(ctx context.Context, scriptname string) ([]HistoryEntry, error)

	// InsertHistory records a provisional attempt before execution.
	InsertHistory(ctx context.Context, entry HistoryEntry) error

	// MarkHistory rewrites the outcome columns of one attempt.
	MarkHistory(ctx context.Context, scriptname string, t time.Time, run, failed bool, errmsg string) error

	// TableExists reports whether a table is present in the keyspace.
	TableExists(ctx context.Context, table string) (bool, error)

	// ExecCQL executes the statements of one script file.
	ExecCQL(ctx context.Context, cql string) error
}

// MigrationError reports the failure of one script together with its name,
// so operators can find the offending file without digging through logs.
type MigrationError struct {
	Script string
	Err    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %q failed: %v", e.Script, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

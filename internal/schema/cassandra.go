package schema

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
	"github.com/google/uuid"

	"github.com/axonops/axonops-auth-service/internal/cluster"
)

// statementDelimiter splits a script into statements on a semicolon at end
// of line, so string literals containing semicolons survive.
var statementDelimiter = regexp.MustCompile(`;\s*\n`)

// CassandraStore implements Store against the coordination tables of one
// keyspace. All request and history writes use the coordination consistency
// level, QUORUM unless configured otherwise.
type CassandraStore struct {
	cl          *cluster.Cluster
	keyspace    string
	consistency gocql.Consistency
}

var _ Store = (*CassandraStore)(nil)

// NewCassandraStore returns a coordination store for keyspace backed by the
// shared cluster gateway.
func NewCassandraStore(cl *cluster.Cluster, keyspace string, consistency gocql.Consistency) *CassandraStore {
	return &CassandraStore{cl: cl, keyspace: keyspace, consistency: consistency}
}

// EnsureKeyspace creates the keyspace when it does not exist yet. It runs
// on a keyspace-less session because the target may not be connectable.
func (s *CassandraStore) EnsureKeyspace(ctx context.Context, replicationClass string, replicationFactor int) error {
	session, err := s.cl.Session("")
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = { 'class': '%s', 'replication_factor': %d }",
		cluster.Qident(s.keyspace), replicationClass, replicationFactor)
	if err := session.Query(stmt).WithContext(ctx).Consistency(s.consistency).Exec(); err != nil {
		return fmt.Errorf("creating keyspace %q: %w", s.keyspace, err)
	}
	return session.AwaitSchemaAgreement(ctx)
}

// EnsureCoordinationTables creates the schema_migrations and
// schema_migration_requests tables the election itself depends on. These
// cannot be baseline-managed because they must exist before any election.
func (s *CassandraStore) EnsureCoordinationTables(ctx context.Context) error {
	session, err := s.cl.Session(s.keyspace)
	if err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.schema_migrations (
			scriptname text,
			time timestamp,
			run boolean,
			failed boolean,
			error text,
			content text,
			PRIMARY KEY (scriptname, time)
		)`, cluster.Qident(s.keyspace)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.schema_migration_requests (
			reqid uuid,
			reqtime timestamp,
			inprogress boolean,
			failed boolean,
			lastupdate timestamp,
			PRIMARY KEY (reqid)
		)`, cluster.Qident(s.keyspace)),
	}
	for _, stmt := range stmts {
		if err := session.Query(stmt).WithContext(ctx).Consistency(s.consistency).Exec(); err != nil {
			return fmt.Errorf("creating coordination tables: %w", err)
		}
	}
	return session.AwaitSchemaAgreement(ctx)
}

func (s *CassandraStore) query(ctx context.Context, stmt string, values ...any) (*gocql.Query, error) {
	st, err := s.cl.Prepare(stmt, s.keyspace)
	if err != nil {
		return nil, err
	}
	return st.Query(values...).WithContext(ctx).Consistency(s.consistency), nil
}

func (s *CassandraStore) Requests(ctx context.Context) ([]Request, error) {
	q, err := s.query(ctx, fmt.Sprintf(
		"SELECT reqid, reqtime, inprogress, failed, lastupdate FROM %s.schema_migration_requests",
		cluster.Qident(s.keyspace)))
	if err != nil {
		return nil, err
	}
	iter := q.Iter()
	var (
		out []Request
		id  gocql.UUID
		r   Request
	)
	for iter.Scan(&id, &r.ReqTime, &r.InProgress, &r.Failed, &r.LastUpdate) {
		r.ReqID = uuid.UUID(id)
		out = append(out, r)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading migration requests: %w", err)
	}
	return out, nil
}

func (s *CassandraStore) InsertRequest(ctx context.Context, req Request) error {
	q, err := s.query(ctx, fmt.Sprintf(
		"INSERT INTO %s.schema_migration_requests ( reqid, reqtime, inprogress, failed, lastupdate ) VALUES ( ?, ?, ?, ?, ? )",
		cluster.Qident(s.keyspace)),
		gocql.UUID(req.ReqID), req.ReqTime, req.InProgress, req.Failed, req.LastUpdate)
	if err != nil {
		return err
	}
	return q.Exec()
}

func (s *CassandraStore) UpdateRequest(ctx context.Context, req Request) error {
	q, err := s.query(ctx, fmt.Sprintf(
		"UPDATE %s.schema_migration_requests SET inprogress = ?, failed = ?, lastupdate = ? WHERE reqid = ?",
		cluster.Qident(s.keyspace)),
		req.InProgress, req.Failed, req.LastUpdate, gocql.UUID(req.ReqID))
	if err != nil {
		return err
	}
	return q.Exec()
}

func (s *CassandraStore) DeleteRequest(ctx context.Context, reqid uuid.UUID) error {
	q, err := s.query(ctx, fmt.Sprintf(
		"DELETE FROM %s.schema_migration_requests WHERE reqid = ?",
		cluster.Qident(s.keyspace)),
		gocql.UUID(reqid))
	if err != nil {
		return err
	}
	return q.Exec()
}

func (s *CassandraStore) History(ctx context.Context, scriptname string) ([]HistoryEntry, error) {
	q, err := s.query(ctx, fmt.Sprintf(
		"SELECT scriptname, time, run, failed, error, content FROM %s.schema_migrations WHERE scriptname = ?",
		cluster.Qident(s.keyspace)),
		scriptname)
	if err != nil {
		return nil, err
	}
	iter := q.Iter()
	var (
		out []HistoryEntry
		e   HistoryEntry
	)
	for iter.Scan(&e.ScriptName, &e.Time, &e.Run, &e.Failed, &e.Error, &e.Content) {
		out = append(out, e)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("reading migration history for %q: %w", scriptname, err)
	}
	return out, nil
}

func (s *CassandraStore) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	q, err := s.query(ctx, fmt.Sprintf(
		"INSERT INTO %s.schema_migrations ( scriptname, time, run, failed, error, content ) VALUES ( ?, ?, ?, ?, ?, ? )",
		cluster.Qident(s.keyspace)),
		entry.ScriptName, entry.Time, entry.Run, entry.Failed, entry.Error, entry.Content)
	if err != nil {
		return err
	}
	return q.Exec()
}

func (s *CassandraStore) MarkHistory(ctx context.Context, scriptname string, t time.Time, run, failed bool, errmsg string) error {
	q, err := s.query(ctx, fmt.Sprintf(
		"UPDATE %s.schema_migrations SET run = ?, failed = ?, error = ? WHERE scriptname = ? AND time = ?",
		cluster.Qident(s.keyspace)),
		run, failed, errmsg, scriptname, t)
	if err != nil {
		return err
	}
	return q.Exec()
}

// TableExists consults system_schema at consistency ONE; the schema tables
// are node local and do not replicate like user data.
func (s *CassandraStore) TableExists(ctx context.Context, table string) (bool, error) {
	session, err := s.cl.Session(s.keyspace)
	if err != nil {
		return false, err
	}
	var name string
	err = session.Query(
		"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?",
		s.keyspace, table).
		WithContext(ctx).Consistency(gocql.One).Scan(&name)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking table %q: %w", table, err)
	}
	return true, nil
}

// ExecCQL runs each statement of a script in order and then waits for
// schema agreement across the cluster, since scripts are usually DDL.
func (s *CassandraStore) ExecCQL(ctx context.Context, cql string) error {
	session, err := s.cl.Session(s.keyspace)
	if err != nil {
		return err
	}
	for _, stmt := range statementDelimiter.Split(cql, -1) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := session.Query(stmt).WithContext(ctx).Consistency(s.consistency).Exec(); err != nil {
			return err
		}
	}
	return session.AwaitSchemaAgreement(ctx)
}

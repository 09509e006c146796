// Package cassandra provides a Cassandra-backed implementation of the auth
// data layer. All statements go through the shared cluster gateway, which
// prepares each statement once per keyspace and reuses it afterwards.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
	"github.com/google/uuid"

	"github.com/axonops/axonops-auth-service/internal/cluster"
	"github.com/axonops/axonops-auth-service/internal/storage"
)

var qident = cluster.Qident

// Config holds Cassandra auth store configuration.
type Config struct {
	// Keyspace is the keyspace holding the auth tables.
	Keyspace string

	// Consistency is the default level for reads and writes, typically
	// LOCAL_QUORUM. Password and org writes always run at QUORUM.
	Consistency string
}

// Store implements storage.Store on Cassandra.
type Store struct {
	cluster     *cluster.Cluster
	cfg         Config
	consistency gocql.Consistency
	logger      *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Cassandra-backed store on top of an existing cluster
// gateway. It does not connect; sessions are established on first use.
func NewStore(cl *cluster.Cluster, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Keyspace == "" {
		cfg.Keyspace = "authdb"
	}
	if cfg.Consistency == "" {
		cfg.Consistency = "LOCAL_QUORUM"
	}
	consistency, err := cluster.ParseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cluster:     cl,
		cfg:         cfg,
		consistency: consistency,
		logger:      logger.With("component", "cassandra-store"),
	}, nil
}

// readQuery prepares a statement and binds it at the default consistency.
func (s *Store) readQuery(ctx context.Context, stmt string, values ...any) (*gocql.Query, error) {
	st, err := s.cluster.Prepare(stmt, s.cfg.Keyspace)
	if err != nil {
		return nil, err
	}
	return st.Query(values...).WithContext(ctx).Consistency(s.consistency), nil
}

// writeQuery is readQuery under a name that marks mutation call sites.
func (s *Store) writeQuery(ctx context.Context, stmt string, values ...any) (*gocql.Query, error) {
	return s.readQuery(ctx, stmt, values...)
}

// quorumWrite binds a statement at QUORUM regardless of the configured
// default. The password, reset and org paths use it.
func (s *Store) quorumWrite(ctx context.Context, stmt string, values ...any) (*gocql.Query, error) {
	st, err := s.cluster.Prepare(stmt, s.cfg.Keyspace)
	if err != nil {
		return nil, err
	}
	return st.Query(values...).WithContext(ctx).Consistency(gocql.Quorum), nil
}

// ---------- User Operations ----------

func (s *Store) CreateUser(ctx context.Context, org, username, email, parentuser string, opts storage.WriteOptions) error {
	consistency := s.consistency
	if opts.Consistency != "" {
		parsed, err := cluster.ParseConsistency(opts.Consistency)
		if err != nil {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		consistency = parsed
	}
	st, err := s.cluster.Prepare(fmt.Sprintf(
		`INSERT INTO %s.users ( org, username, email, parentuser, createdate ) VALUES ( ?, ?, ?, ?, toTimestamp(now()) )`,
		qident(s.cfg.Keyspace)), s.cfg.Keyspace)
	if err != nil {
		return err
	}
	if err := st.Query(org, username, email, parentuser).WithContext(ctx).Consistency(consistency).Exec(); err != nil {
		return fmt.Errorf("failed to create user %q in %q: %w", username, org, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, org, username string) (*storage.User, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT org, username, email, parentuser, createdate FROM %s.users WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return nil, err
	}
	var u storage.User
	err = q.Scan(&u.Org, &u.Username, &u.Email, &u.ParentUser, &u.CreateDate)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q in %q: %w", username, org, err)
	}
	return &u, nil
}

func (s *Store) UserExists(ctx context.Context, org, username string) (bool, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT username FROM %s.users WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return false, err
	}
	var name string
	err = q.Scan(&name)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check user %q in %q: %w", username, org, err)
	}
	return true, nil
}

// ---------- Org Operations ----------

// CreateOrg writes at QUORUM so a freshly created org is visible to the
// user-creation path that usually follows immediately.
func (s *Store) CreateOrg(ctx context.Context, org, parentorg string) error {
	q, err := s.quorumWrite(ctx, fmt.Sprintf(
		`INSERT INTO %s.orgs ( org, parentorg ) VALUES ( ?, ? )`,
		qident(s.cfg.Keyspace)), org, parentorg)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to create org %q: %w", org, err)
	}
	return nil
}

func (s *Store) GetOrg(ctx context.Context, org string) (*storage.Org, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT org, parentorg FROM %s.orgs WHERE org = ?`,
		qident(s.cfg.Keyspace)), org)
	if err != nil {
		return nil, err
	}
	var o storage.Org
	err = q.Scan(&o.Name, &o.ParentOrg)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org %q: %w", org, err)
	}
	return &o, nil
}

// ---------- Settings Operations ----------

func (s *Store) GetOrgSetting(ctx context.Context, org, setting string) (string, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT value FROM %s.orgsettings WHERE org = ? AND setting = ?`,
		qident(s.cfg.Keyspace)), org, setting)
	if err != nil {
		return "", err
	}
	var value string
	err = q.Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %q for org %q: %w", setting, org, err)
	}
	return value, nil
}

func (s *Store) SetOrgSetting(ctx context.Context, org, setting, value string) error {
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`INSERT INTO %s.orgsettings ( org, setting, value ) VALUES ( ?, ?, ? )`,
		qident(s.cfg.Keyspace)), org, setting, value)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to set setting %q for org %q: %w", setting, org, err)
	}
	return nil
}

func (s *Store) GetGlobalSetting(ctx context.Context, setting string) (string, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT value FROM %s.globalsettings WHERE setting = ?`,
		qident(s.cfg.Keyspace)), setting)
	if err != nil {
		return "", err
	}
	var value string
	err = q.Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get global setting %q: %w", setting, err)
	}
	return value, nil
}

func (s *Store) SetGlobalSetting(ctx context.Context, setting, value string) error {
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`INSERT INTO %s.globalsettings ( setting, value ) VALUES ( ?, ? )`,
		qident(s.cfg.Keyspace)), setting, value)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to set global setting %q: %w", setting, err)
	}
	return nil
}

// ---------- Credential Operations ----------

func (s *Store) GetUserHash(ctx context.Context, org, username string) (string, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT hash FROM %s.users WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return "", err
	}
	var hash string
	err = q.Scan(&hash)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get hash for %q in %q: %w", username, org, err)
	}
	return hash, nil
}

func (s *Store) GetUserSalt(ctx context.Context, org, username string) (string, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT salt FROM %s.users WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return "", err
	}
	var salt string
	err = q.Scan(&salt)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get salt for %q in %q: %w", username, org, err)
	}
	return salt, nil
}

// SetPassword writes at QUORUM; a password change must not be lost to a
// lower-consistency read on another coordinator.
func (s *Store) SetPassword(ctx context.Context, org, username, hash, salt string) error {
	q, err := s.quorumWrite(ctx, fmt.Sprintf(
		`UPDATE %s.users SET hash = ?, salt = ? WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), hash, salt, org, username)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to set password for %q in %q: %w", username, org, err)
	}
	return nil
}

// ---------- Password Reset Operations ----------

// CreatePasswordReset inserts a new reset row, replacing any previous one
// for the user, and returns the generated resetid.
func (s *Store) CreatePasswordReset(ctx context.Context, org, username string) (string, error) {
	resetid := uuid.New()
	q, err := s.quorumWrite(ctx, fmt.Sprintf(
		`INSERT INTO %s.passwordreset ( org, username, requestdate, resetid ) VALUES ( ?, ?, toTimestamp(now()), ? )`,
		qident(s.cfg.Keyspace)), org, username, gocql.UUID(resetid))
	if err != nil {
		return "", err
	}
	if err := q.Exec(); err != nil {
		return "", fmt.Errorf("failed to create password reset for %q in %q: %w", username, org, err)
	}
	return resetid.String(), nil
}

func (s *Store) GetPasswordReset(ctx context.Context, org, username string) (*storage.PasswordReset, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT org, username, requestdate, resetid FROM %s.passwordreset WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return nil, err
	}
	var (
		r  storage.PasswordReset
		id gocql.UUID
	)
	err = q.Scan(&r.Org, &r.Username, &r.RequestDate, &id)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get password reset for %q in %q: %w", username, org, err)
	}
	r.ResetID = uuid.UUID(id).String()
	return &r, nil
}

// ValidatePasswordReset reports whether resetid matches the stored row and
// the row is younger than the reset validity window. A missing row is not
// an error, just invalid.
func (s *Store) ValidatePasswordReset(ctx context.Context, org, username, resetid string) (bool, error) {
	r, err := s.GetPasswordReset(ctx, org, username)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if r.ResetID != resetid {
		return false, nil
	}
	return r.RequestDate.Add(storage.ResetValidity).After(time.Now()), nil
}

func (s *Store) DeletePasswordReset(ctx context.Context, org, username string) error {
	q, err := s.quorumWrite(ctx, fmt.Sprintf(
		`DELETE FROM %s.passwordreset WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to delete password reset for %q in %q: %w", username, org, err)
	}
	return nil
}

// ---------- Session Operations ----------

func (s *Store) CreateUserSession(ctx context.Context, org, username string) (*storage.Session, error) {
	id := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`INSERT INTO %s.sessions ( org, username, sessionid, startdate, lastupdate ) VALUES ( ?, ?, ?, ?, ? )`,
		qident(s.cfg.Keyspace)), org, username, gocql.UUID(id), now, now)
	if err != nil {
		return nil, err
	}
	if err := q.Exec(); err != nil {
		return nil, fmt.Errorf("failed to create session for %q in %q: %w", username, org, err)
	}
	return &storage.Session{
		Org:        org,
		Username:   username,
		SessionID:  id.String(),
		StartDate:  now,
		LastUpdate: now,
	}, nil
}

func (s *Store) GetUserSessions(ctx context.Context, org, username string) ([]*storage.Session, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT org, username, sessionid, startdate, lastupdate FROM %s.sessions WHERE org = ? AND username = ?`,
		qident(s.cfg.Keyspace)), org, username)
	if err != nil {
		return nil, err
	}
	iter := q.Iter()
	var (
		sessions []*storage.Session
		sess     storage.Session
		id       gocql.UUID
	)
	for iter.Scan(&sess.Org, &sess.Username, &id, &sess.StartDate, &sess.LastUpdate) {
		out := sess
		out.SessionID = uuid.UUID(id).String()
		sessions = append(sessions, &out)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list sessions for %q in %q: %w", username, org, err)
	}
	return sessions, nil
}

func (s *Store) GetUserSession(ctx context.Context, org, username, sessionid string) (*storage.Session, error) {
	id, err := uuid.Parse(sessionid)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sessionid %q", storage.ErrInvalidInput, sessionid)
	}
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT org, username, sessionid, startdate, lastupdate FROM %s.sessions WHERE org = ? AND username = ? AND sessionid = ?`,
		qident(s.cfg.Keyspace)), org, username, gocql.UUID(id))
	if err != nil {
		return nil, err
	}
	var (
		sess storage.Session
		sid  gocql.UUID
	)
	err = q.Scan(&sess.Org, &sess.Username, &sid, &sess.StartDate, &sess.LastUpdate)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %q for %q in %q: %w", sessionid, username, org, err)
	}
	sess.SessionID = uuid.UUID(sid).String()
	return &sess, nil
}

func (s *Store) GetUserSessionByKey(ctx context.Context, key string) (*storage.Session, error) {
	sk, err := s.GetSessionKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.GetUserSession(ctx, sk.Org, sk.Username, sk.SessionID)
}

func (s *Store) TouchSession(ctx context.Context, org, username, sessionid string) error {
	id, err := uuid.Parse(sessionid)
	if err != nil {
		return fmt.Errorf("%w: invalid sessionid %q", storage.ErrInvalidInput, sessionid)
	}
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`UPDATE %s.sessions SET lastupdate = toTimestamp(now()) WHERE org = ? AND username = ? AND sessionid = ?`,
		qident(s.cfg.Keyspace)), org, username, gocql.UUID(id))
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to touch session %q for %q in %q: %w", sessionid, username, org, err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, org, username, sessionid string) error {
	id, err := uuid.Parse(sessionid)
	if err != nil {
		return fmt.Errorf("%w: invalid sessionid %q", storage.ErrInvalidInput, sessionid)
	}
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`DELETE FROM %s.sessions WHERE org = ? AND username = ? AND sessionid = ?`,
		qident(s.cfg.Keyspace)), org, username, gocql.UUID(id))
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to delete session %q for %q in %q: %w", sessionid, username, org, err)
	}
	return nil
}

// ---------- Session Key Operations ----------

func (s *Store) CreateSessionKey(ctx context.Context, sk *storage.SessionKey) error {
	if sk == nil || sk.Key == "" {
		return fmt.Errorf("%w: session key is empty", storage.ErrInvalidInput)
	}
	id, err := uuid.Parse(sk.SessionID)
	if err != nil {
		return fmt.Errorf("%w: invalid sessionid %q", storage.ErrInvalidInput, sk.SessionID)
	}
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`INSERT INTO %s.sessionkeys ( key, org, username, sessionid, expiry ) VALUES ( ?, ?, ?, ?, ? )`,
		qident(s.cfg.Keyspace)), sk.Key, sk.Org, sk.Username, gocql.UUID(id), sk.Expiry)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to create session key for %q in %q: %w", sk.Username, sk.Org, err)
	}
	return nil
}

func (s *Store) GetSessionKey(ctx context.Context, key string) (*storage.SessionKey, error) {
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT key, org, username, sessionid, expiry FROM %s.sessionkeys WHERE key = ?`,
		qident(s.cfg.Keyspace)), key)
	if err != nil {
		return nil, err
	}
	var (
		sk storage.SessionKey
		id gocql.UUID
	)
	err = q.Scan(&sk.Key, &sk.Org, &sk.Username, &id, &sk.Expiry)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session key: %w", err)
	}
	sk.SessionID = uuid.UUID(id).String()
	return &sk, nil
}

// ValidateSessionKey returns (valid, username, org). Unknown and expired
// keys both come back as invalid with empty identity, never as an error.
func (s *Store) ValidateSessionKey(ctx context.Context, key string) (bool, string, string, error) {
	sk, err := s.GetSessionKey(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, "", "", nil
	}
	if err != nil {
		return false, "", "", err
	}
	if !sk.Expiry.IsZero() && sk.Expiry.Before(time.Now()) {
		return false, "", "", nil
	}
	return true, sk.Username, sk.Org, nil
}

func (s *Store) DeleteSessionKey(ctx context.Context, key string) error {
	q, err := s.writeQuery(ctx, fmt.Sprintf(
		`DELETE FROM %s.sessionkeys WHERE key = ?`,
		qident(s.cfg.Keyspace)), key)
	if err != nil {
		return err
	}
	if err := q.Exec(); err != nil {
		return fmt.Errorf("failed to delete session key: %w", err)
	}
	return nil
}

// DeleteSessionKeys removes every key bound to a session. It resolves keys
// through the sessionid index and deletes them one by one, since Cassandra
// cannot delete by an indexed column directly.
func (s *Store) DeleteSessionKeys(ctx context.Context, sessionid string) error {
	id, err := uuid.Parse(sessionid)
	if err != nil {
		return fmt.Errorf("%w: invalid sessionid %q", storage.ErrInvalidInput, sessionid)
	}
	q, err := s.readQuery(ctx, fmt.Sprintf(
		`SELECT key FROM %s.sessionkeys WHERE sessionid = ?`,
		qident(s.cfg.Keyspace)), gocql.UUID(id))
	if err != nil {
		return err
	}
	iter := q.Iter()
	var (
		keys []string
		key  string
	)
	for iter.Scan(&key) {
		keys = append(keys, key)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to list keys for session %q: %w", sessionid, err)
	}
	for _, k := range keys {
		if err := s.DeleteSessionKey(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Health ----------

func (s *Store) Ping(ctx context.Context) error {
	return s.cluster.Health(ctx)
}

// Close is a no-op; the cluster gateway owns the sessions and is closed by
// whoever created it.
func (s *Store) Close() {}

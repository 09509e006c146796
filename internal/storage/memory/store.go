// Package memory provides an in-memory storage implementation, used for
// tests and for running the service without a Cassandra cluster.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

type userKey struct {
	org, username string
}

type sessionKey struct {
	org, username, sessionid string
}

// userRecord holds the full user row including the credential columns that
// storage.User deliberately leaves out.
type userRecord struct {
	user storage.User
	hash string
	salt string
}

// Store implements storage.Store with in-memory maps.
type Store struct {
	mu sync.RWMutex

	orgs           map[string]*storage.Org
	users          map[userKey]*userRecord
	orgSettings    map[string]map[string]string
	globalSettings map[string]string
	resets         map[userKey]*storage.PasswordReset
	sessions       map[sessionKey]*storage.Session
	keys           map[string]*storage.SessionKey

	// now is replaceable so tests can move the clock.
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		orgs:           make(map[string]*storage.Org),
		users:          make(map[userKey]*userRecord),
		orgSettings:    make(map[string]map[string]string),
		globalSettings: make(map[string]string),
		resets:         make(map[userKey]*storage.PasswordReset),
		sessions:       make(map[sessionKey]*storage.Session),
		keys:           make(map[string]*storage.SessionKey),
		now:            time.Now,
	}
}

// SetClock replaces the store's time source. Tests use it to age password
// resets and session keys.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// ---------- User Operations ----------

func (s *Store) CreateUser(ctx context.Context, org, username, email, parentuser string, opts storage.WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userKey{org, username}] = &userRecord{
		user: storage.User{
			Org:        org,
			Username:   username,
			Email:      email,
			ParentUser: parentuser,
			CreateDate: s.now(),
		},
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, org, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userKey{org, username}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u := rec.user
	return &u, nil
}

func (s *Store) UserExists(ctx context.Context, org, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userKey{org, username}]
	return ok, nil
}

// ---------- Org Operations ----------

func (s *Store) CreateOrg(ctx context.Context, org, parentorg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org] = &storage.Org{Name: org, ParentOrg: parentorg}
	return nil
}

func (s *Store) GetOrg(ctx context.Context, org string) (*storage.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[org]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *o
	return &out, nil
}

// ---------- Settings Operations ----------

func (s *Store) GetOrgSetting(ctx context.Context, org, setting string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.orgSettings[org][setting]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetOrgSetting(ctx context.Context, org, setting, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orgSettings[org] == nil {
		s.orgSettings[org] = make(map[string]string)
	}
	s.orgSettings[org][setting] = value
	return nil
}

func (s *Store) GetGlobalSetting(ctx context.Context, setting string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.globalSettings[setting]
	if !ok {
		return "", storage.ErrNotFound
	}
	return value, nil
}

func (s *Store) SetGlobalSetting(ctx context.Context, setting, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalSettings[setting] = value
	return nil
}

// ---------- Credential Operations ----------

func (s *Store) GetUserHash(ctx context.Context, org, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userKey{org, username}]
	if !ok {
		return "", storage.ErrNotFound
	}
	return rec.hash, nil
}

func (s *Store) GetUserSalt(ctx context.Context, org, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userKey{org, username}]
	if !ok {
		return "", storage.ErrNotFound
	}
	return rec.salt, nil
}

func (s *Store) SetPassword(ctx context.Context, org, username, hash, salt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userKey{org, username}]
	if !ok {
		// Mirrors a Cassandra UPDATE, which upserts the credential
		// columns even when no user row was inserted.
		rec = &userRecord{user: storage.User{Org: org, Username: username}}
		s.users[userKey{org, username}] = rec
	}
	rec.hash = hash
	rec.salt = salt
	return nil
}

// ---------- Password Reset Operations ----------

func (s *Store) CreatePasswordReset(ctx context.Context, org, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resetid := uuid.New().String()
	s.resets[userKey{org, username}] = &storage.PasswordReset{
		Org:         org,
		Username:    username,
		RequestDate: s.now(),
		ResetID:     resetid,
	}
	return resetid, nil
}

func (s *Store) GetPasswordReset(ctx context.Context, org, username string) (*storage.PasswordReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resets[userKey{org, username}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *Store) ValidatePasswordReset(ctx context.Context, org, username, resetid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resets[userKey{org, username}]
	if !ok {
		return false, nil
	}
	if r.ResetID != resetid {
		return false, nil
	}
	return r.RequestDate.Add(storage.ResetValidity).After(s.now()), nil
}

func (s *Store) DeletePasswordReset(ctx context.Context, org, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resets, userKey{org, username})
	return nil
}

// ---------- Session Operations ----------

func (s *Store) CreateUserSession(ctx context.Context, org, username string) (*storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess := &storage.Session{
		Org:        org,
		Username:   username,
		SessionID:  uuid.New().String(),
		StartDate:  now,
		LastUpdate: now,
	}
	s.sessions[sessionKey{org, username, sess.SessionID}] = sess
	out := *sess
	return &out, nil
}

func (s *Store) GetUserSessions(ctx context.Context, org, username string) ([]*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []*storage.Session
	for k, sess := range s.sessions {
		if k.org == org && k.username == username {
			out := *sess
			sessions = append(sessions, &out)
		}
	}
	return sessions, nil
}

func (s *Store) GetUserSession(ctx context.Context, org, username, sessionid string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{org, username, sessionid}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *sess
	return &out, nil
}

func (s *Store) GetUserSessionByKey(ctx context.Context, key string) (*storage.Session, error) {
	s.mu.RLock()
	sk, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetUserSession(ctx, sk.Org, sk.Username, sk.SessionID)
}

func (s *Store) TouchSession(ctx context.Context, org, username, sessionid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{org, username, sessionid}]
	if !ok {
		return storage.ErrNotFound
	}
	sess.LastUpdate = s.now()
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, org, username, sessionid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{org, username, sessionid})
	return nil
}

// ---------- Session Key Operations ----------

func (s *Store) CreateSessionKey(ctx context.Context, sk *storage.SessionKey) error {
	if sk == nil || sk.Key == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *sk
	s.keys[sk.Key] = &out
	return nil
}

func (s *Store) GetSessionKey(ctx context.Context, key string) (*storage.SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.keys[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *sk
	return &out, nil
}

func (s *Store) ValidateSessionKey(ctx context.Context, key string) (bool, string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sk, ok := s.keys[key]
	if !ok {
		return false, "", "", nil
	}
	if !sk.Expiry.IsZero() && sk.Expiry.Before(s.now()) {
		return false, "", "", nil
	}
	return true, sk.Username, sk.Org, nil
}

func (s *Store) DeleteSessionKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

func (s *Store) DeleteSessionKeys(ctx context.Context, sessionid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sk := range s.keys {
		if sk.SessionID == sessionid {
			delete(s.keys, key)
		}
	}
	return nil
}

// ---------- Health ----------

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() {}

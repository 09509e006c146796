// Package storage provides storage interfaces and implementations for the auth services API.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTooManyResults   = errors.New("too many results")
)

// ResetValidity is how long a password reset stays redeemable after request.
const ResetValidity = 7 * 24 * time.Hour

// Org represents an organization, a flat namespace of users.
type Org struct {
	Name      string `json:"org"`
	ParentOrg string `json:"parentorg,omitempty"`
}

// User represents a stored user. Password hash and salt are kept out of the
// record and reachable only through the dedicated hash/salt operations.
type User struct {
	Org        string    `json:"org"`
	Username   string    `json:"username"`
	Email      string    `json:"email,omitempty"`
	ParentUser string    `json:"parentuser,omitempty"` // "user@org" or empty
	CreateDate time.Time `json:"createdate"`
}

// Session represents a login session.
type Session struct {
	Org        string    `json:"org"`
	Username   string    `json:"username"`
	SessionID  string    `json:"sessionid"`
	StartDate  time.Time `json:"startdate"`
	LastUpdate time.Time `json:"lastupdate"`
}

// SessionKey binds an opaque key to a session.
type SessionKey struct {
	Key       string    `json:"-"` // Never exposed in JSON
	Org       string    `json:"org"`
	Username  string    `json:"username"`
	SessionID string    `json:"sessionid"`
	Expiry    time.Time `json:"expiry"`
}

// PasswordReset represents a pending password reset. At most one is active
// per user; it is redeemable for ResetValidity after RequestDate.
type PasswordReset struct {
	Org         string    `json:"org"`
	Username    string    `json:"username"`
	RequestDate time.Time `json:"requestdate"`
	ResetID     string    `json:"resetid"`
}

// WriteOptions override the store's default write consistency for a single
// call. The zero value keeps the backend default (LOCAL_QUORUM on Cassandra).
type WriteOptions struct {
	Consistency string
}

// Store defines the auth data layer. Implementations exist for Cassandra and
// in-memory (tests, development). All operations are safe for concurrent use.
type Store interface {
	// Users
	CreateUser(ctx context.Context, org, username, email, parentuser string, opts WriteOptions) error
	GetUser(ctx context.Context, org, username string) (*User, error)
	UserExists(ctx context.Context, org, username string) (bool, error)

	// Orgs
	CreateOrg(ctx context.Context, org, parentorg string) error
	GetOrg(ctx context.Context, org string) (*Org, error)

	// Settings
	GetOrgSetting(ctx context.Context, org, setting string) (string, error)
	SetOrgSetting(ctx context.Context, org, setting, value string) error
	GetGlobalSetting(ctx context.Context, setting string) (string, error)
	SetGlobalSetting(ctx context.Context, setting, value string) error

	// Credentials
	GetUserHash(ctx context.Context, org, username string) (string, error)
	GetUserSalt(ctx context.Context, org, username string) (string, error)
	SetPassword(ctx context.Context, org, username, hash, salt string) error

	// Password resets
	CreatePasswordReset(ctx context.Context, org, username string) (string, error)
	GetPasswordReset(ctx context.Context, org, username string) (*PasswordReset, error)
	ValidatePasswordReset(ctx context.Context, org, username, resetid string) (bool, error)
	DeletePasswordReset(ctx context.Context, org, username string) error

	// Sessions
	CreateUserSession(ctx context.Context, org, username string) (*Session, error)
	GetUserSessions(ctx context.Context, org, username string) ([]*Session, error)
	GetUserSession(ctx context.Context, org, username, sessionid string) (*Session, error)
	GetUserSessionByKey(ctx context.Context, key string) (*Session, error)
	TouchSession(ctx context.Context, org, username, sessionid string) error
	DeleteSession(ctx context.Context, org, username, sessionid string) error

	// Session keys
	CreateSessionKey(ctx context.Context, sk *SessionKey) error
	GetSessionKey(ctx context.Context, key string) (*SessionKey, error)
	ValidateSessionKey(ctx context.Context, key string) (bool, string, string, error)
	DeleteSessionKey(ctx context.Context, key string) error
	DeleteSessionKeys(ctx context.Context, sessionid string) error

	// Health
	Ping(ctx context.Context) error
	Close()
}

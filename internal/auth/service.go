package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/axonops/axonops-auth-service/internal/storage"
)

// Sentinel errors the API layer dispatches on. Wrapped errors carry the
// principal context; handlers match with errors.Is.
var (
	ErrRegistrationClosed = errors.New("organization closed for registrations or does not exist")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidParent      = errors.New("invalid parent user")
	ErrParentKeyRequired  = errors.New("parent user key required")
	ErrParentKeyMismatch  = errors.New("parent user key mismatch")
	ErrAuthFailed         = errors.New("password authentication failed")
	ErrInvalidSessionKey  = errors.New("invalid session key")
	ErrNotSessionOwner    = errors.New("session key does not match principal")
	ErrInvalidReset       = errors.New("invalid or expired resetid")
	ErrInvalidPrincipal   = errors.New("invalid principal")
)

// RegistrationOpenSetting is the org setting gating open enrollment. Absent,
// empty, or "0" means closed; any other value means open.
const RegistrationOpenSetting = "registrationOpen"

// DefaultSessionKeyTTL is how long an issued session key stays valid.
const DefaultSessionKeyTTL = 24 * time.Hour

// Service composes the storage layer and the credential engine into the
// account, login, and password-reset operations the API exposes. It keeps no
// in-process cache; the datastore is the source of truth.
type Service struct {
	store         storage.Store
	logger        *slog.Logger
	sessionKeyTTL time.Duration

	now func() time.Time
}

// ServiceConfig contains configuration for the auth service.
type ServiceConfig struct {
	// SessionKeyTTL is how long issued session keys stay valid.
	// Zero means DefaultSessionKeyTTL.
	SessionKeyTTL time.Duration
}

// NewService creates an auth service with default configuration.
func NewService(store storage.Store, logger *slog.Logger) *Service {
	return NewServiceWithConfig(store, logger, ServiceConfig{})
}

// NewServiceWithConfig creates an auth service with configuration.
func NewServiceWithConfig(store storage.Store, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionKeyTTL
	if ttl <= 0 {
		ttl = DefaultSessionKeyTTL
	}
	return &Service{
		store:         store,
		logger:        logger.With(slog.String("component", "auth")),
		sessionKeyTTL: ttl,
		now:           time.Now,
	}
}

// SplitPrincipal splits "user@org" on the last "@". Usernames may contain
// "@"; org names may not.
func SplitPrincipal(principal string) (username, org string, err error) {
	i := strings.LastIndex(principal, "@")
	if i <= 0 || i == len(principal)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPrincipal, principal)
	}
	return principal[:i], principal[i+1:], nil
}

// Principal renders a (username, org) pair back to its "user@org" form.
func Principal(username, org string) string {
	return username + "@" + org
}

// ---------- User Operations ----------

// CreateUser creates a user after the enrollment gates pass. Self-signup
// requires the org's registration to be open. Sponsored signup names an
// existing parent user and presents one of the parent's session keys.
func (s *Service) CreateUser(ctx context.Context, org, username, email, parentuser, parentKey string) error {
	if _, err := s.store.GetOrg(ctx, org); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrRegistrationClosed, org)
		}
		return fmt.Errorf("failed to read org: %w", err)
	}

	exists, err := s.store.UserExists(ctx, org, username)
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %q", ErrUserExists, Principal(username, org))
	}

	if parentuser == "" {
		open, err := s.registrationOpen(ctx, org)
		if err != nil {
			return err
		}
		if !open {
			return fmt.Errorf("%w: %q", ErrRegistrationClosed, org)
		}
	} else {
		if err := s.verifyParent(ctx, parentuser, parentKey); err != nil {
			return err
		}
	}

	if err := s.store.CreateUser(ctx, org, username, email, parentuser, storage.WriteOptions{Consistency: "QUORUM"}); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created",
		slog.String("org", org),
		slog.String("username", username),
		slog.Bool("sponsored", parentuser != ""))
	return nil
}

// registrationOpen reads the org's enrollment gate.
func (s *Service) registrationOpen(ctx context.Context, org string) (bool, error) {
	value, err := s.store.GetOrgSetting(ctx, org, RegistrationOpenSetting)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read org setting: %w", err)
	}
	return value != "" && value != "0", nil
}

// verifyParent checks the sponsored-signup gates: the parent principal
// parses, the parent exists, and the presented key is one of theirs.
func (s *Service) verifyParent(ctx context.Context, parentuser, parentKey string) error {
	parentName, parentOrg, err := SplitPrincipal(parentuser)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidParent, parentuser)
	}

	exists, err := s.store.UserExists(ctx, parentOrg, parentName)
	if err != nil {
		return fmt.Errorf("failed to check parent existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", ErrInvalidParent, parentuser)
	}

	if parentKey == "" {
		return fmt.Errorf("%w for %q", ErrParentKeyRequired, parentuser)
	}

	valid, keyUser, keyOrg, err := s.store.ValidateSessionKey(ctx, parentKey)
	if err != nil {
		return fmt.Errorf("failed to validate parent key: %w", err)
	}
	if !valid || keyUser != parentName || keyOrg != parentOrg {
		return fmt.Errorf("%w for %q", ErrParentKeyMismatch, parentuser)
	}
	return nil
}

// GetUser returns the stored user record.
func (s *Service) GetUser(ctx context.Context, org, username string) (*storage.User, error) {
	return s.store.GetUser(ctx, org, username)
}

// ---------- Login & Session Operations ----------

// Login verifies the submitted password equivalent and, on success, opens a
// session and issues a fresh session key for it.
func (s *Service) Login(ctx context.Context, org, username, password string) (*storage.Session, string, error) {
	exists, err := s.store.UserExists(ctx, org, username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return nil, "", fmt.Errorf("%w: %q", storage.ErrNotFound, Principal(username, org))
	}

	hash, err := s.store.GetUserHash(ctx, org, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to read password hash: %w", err)
	}
	salt, err := s.store.GetUserSalt(ctx, org, username)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to read password salt: %w", err)
	}
	if hash == "" || salt == "" {
		// No credential on record. Indistinguishable from a wrong password.
		return nil, "", fmt.Errorf("%w for %q", ErrAuthFailed, Principal(username, org))
	}

	ok, err := VerifyPassword(password, salt, hash, HashAlgorithm)
	if err != nil {
		return nil, "", fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		s.logger.Debug("login rejected",
			slog.String("org", org),
			slog.String("username", username))
		return nil, "", fmt.Errorf("%w for %q", ErrAuthFailed, Principal(username, org))
	}

	session, err := s.store.CreateUserSession(ctx, org, username)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	key, err := GenerateSessionKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session key: %w", err)
	}
	sk := &storage.SessionKey{
		Key:       key,
		Org:       org,
		Username:  username,
		SessionID: session.SessionID,
		Expiry:    s.now().Add(s.sessionKeyTTL),
	}
	if err := s.store.CreateSessionKey(ctx, sk); err != nil {
		return nil, "", fmt.Errorf("failed to store session key: %w", err)
	}

	s.logger.Info("session created",
		slog.String("org", org),
		slog.String("username", username),
		slog.String("sessionid", session.SessionID))
	return session, key, nil
}

// authorize resolves a presented session key and checks it belongs to the
// principal. Successful use refreshes the backing session's lastupdate, best
// effort.
func (s *Service) authorize(ctx context.Context, org, username, key string) (*storage.SessionKey, error) {
	if key == "" {
		return nil, ErrInvalidSessionKey
	}
	sk, err := s.store.GetSessionKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSessionKey
		}
		return nil, fmt.Errorf("failed to read session key: %w", err)
	}
	if !sk.Expiry.After(s.now()) {
		return nil, ErrInvalidSessionKey
	}
	if sk.Org != org || sk.Username != username {
		return nil, fmt.Errorf("%w: key belongs to %q", ErrNotSessionOwner, Principal(sk.Username, sk.Org))
	}
	if err := s.store.TouchSession(ctx, sk.Org, sk.Username, sk.SessionID); err != nil {
		s.logger.Debug("failed to touch session",
			slog.String("sessionid", sk.SessionID),
			slog.String("error", err.Error()))
	}
	return sk, nil
}

// Sessions lists the principal's sessions. The key must belong to the
// principal.
func (s *Service) Sessions(ctx context.Context, org, username, key string) ([]*storage.Session, error) {
	if _, err := s.authorize(ctx, org, username, key); err != nil {
		return nil, err
	}
	sessions, err := s.store.GetUserSessions(ctx, org, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// Session returns one of the principal's sessions by id.
func (s *Service) Session(ctx context.Context, org, username, sessionid, key string) (*storage.Session, error) {
	if _, err := s.authorize(ctx, org, username, key); err != nil {
		return nil, err
	}
	return s.store.GetUserSession(ctx, org, username, sessionid)
}

// RevokeSession deletes a session and every key issued for it.
func (s *Service) RevokeSession(ctx context.Context, org, username, sessionid, key string) error {
	if _, err := s.authorize(ctx, org, username, key); err != nil {
		return err
	}
	if _, err := s.store.GetUserSession(ctx, org, username, sessionid); err != nil {
		return err
	}
	if err := s.store.DeleteSessionKeys(ctx, sessionid); err != nil {
		return fmt.Errorf("failed to delete session keys: %w", err)
	}
	if err := s.store.DeleteSession(ctx, org, username, sessionid); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("session revoked",
		slog.String("org", org),
		slog.String("username", username),
		slog.String("sessionid", sessionid))
	return nil
}

// ValidateKey reports whether a session key is live and who it belongs to.
// Unknown and expired keys are (false, "", "").
func (s *Service) ValidateKey(ctx context.Context, key string) (bool, string, string, error) {
	return s.store.ValidateSessionKey(ctx, key)
}

// ---------- Password Reset Operations ----------

// RequestPasswordReset opens a reset window for the user and returns the
// reset id. Delivery of the id to the user is the caller's concern; it never
// appears in API responses.
func (s *Service) RequestPasswordReset(ctx context.Context, org, username string) (string, error) {
	exists, err := s.store.UserExists(ctx, org, username)
	if err != nil {
		return "", fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %q", storage.ErrNotFound, Principal(username, org))
	}

	resetid, err := s.store.CreatePasswordReset(ctx, org, username)
	if err != nil {
		return "", fmt.Errorf("failed to create password reset: %w", err)
	}

	s.logger.Debug("password reset issued",
		slog.String("org", org),
		slog.String("username", username),
		slog.String("resetid", resetid))
	return resetid, nil
}

// CompletePasswordReset redeems a reset id and installs the new password
// equivalent. The reset row is deleted on success; a reset is single use.
func (s *Service) CompletePasswordReset(ctx context.Context, org, username, resetid, password string) error {
	exists, err := s.store.UserExists(ctx, org, username)
	if err != nil {
		return fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %q", storage.ErrNotFound, Principal(username, org))
	}

	valid, err := s.store.ValidatePasswordReset(ctx, org, username, resetid)
	if err != nil {
		return fmt.Errorf("failed to validate password reset: %w", err)
	}
	if !valid {
		return fmt.Errorf("%w for %q", ErrInvalidReset, Principal(username, org))
	}

	if err := s.SetPassword(ctx, org, username, password); err != nil {
		return err
	}
	if err := s.store.DeletePasswordReset(ctx, org, username); err != nil {
		return fmt.Errorf("failed to delete password reset: %w", err)
	}

	s.logger.Info("password updated",
		slog.String("org", org),
		slog.String("username", username))
	return nil
}

// SetPassword salts and hashes a password equivalent and stores the
// credential. Shared by reset completion, bootstrap seeding, and the admin
// CLI.
func (s *Service) SetPassword(ctx context.Context, org, username, password string) error {
	salt, err := GenerateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	hash, err := HashPassword(password, salt, HashAlgorithm)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.SetPassword(ctx, org, username, hash, salt); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}
	return nil
}

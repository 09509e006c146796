package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/RackSec/srslog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/axonops/axonops-auth-service/internal/config"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditEventUserCreated            AuditEventType = "user.created"
	AuditEventUserCreateDenied       AuditEventType = "user.create.denied"
	AuditEventLoginSuccess           AuditEventType = "login.success"
	AuditEventLoginFailure           AuditEventType = "login.failure"
	AuditEventPasswordResetRequested AuditEventType = "password.reset.requested"
	AuditEventPasswordResetCompleted AuditEventType = "password.reset.completed"
	AuditEventSessionKeyRevoked      AuditEventType = "session.key.revoked"
	AuditEventBootstrapCompleted     AuditEventType = "bootstrap.completed"
)

// AuditEvent represents an audit log entry. Request bodies are never
// recorded; they carry passwords.
type AuditEvent struct {
	Timestamp  time.Time
	EventType  AuditEventType
	Principal  string
	ClientIP   string
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	Error      string
}

// AuditLogger writes audit events to a rotating file and, when configured,
// a syslog sink. A disabled logger drops everything. Sink write failures are
// swallowed so auditing never fails a request.
type AuditLogger struct {
	enabled bool
	logger  *slog.Logger
	mu      sync.Mutex
	rotator *lumberjack.Logger
	syslog  *srslog.Writer
}

// NewAuditLogger creates an audit logger from configuration. Failing to open
// a configured sink is a startup error; once running, emission is best
// effort.
func NewAuditLogger(cfg config.AuditConfig) (*AuditLogger, error) {
	al := &AuditLogger{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return al, nil
	}

	var sinks []io.Writer
	if cfg.File != "" {
		al.rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		sinks = append(sinks, al.rotator)
	}
	if cfg.SyslogNetwork != "" || cfg.SyslogAddress != "" {
		w, err := srslog.Dial(cfg.SyslogNetwork, cfg.SyslogAddress, srslog.LOG_AUTH|srslog.LOG_INFO, "authservicesapi")
		if err != nil {
			return nil, err
		}
		al.syslog = w
		sinks = append(sinks, w)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, os.Stdout)
	}

	al.logger = slog.New(slog.NewJSONHandler(io.MultiWriter(sinks...), nil))
	return al, nil
}

// Close closes the audit sinks.
func (al *AuditLogger) Close() error {
	var err error
	if al.rotator != nil {
		err = al.rotator.Close()
	}
	if al.syslog != nil {
		if cerr := al.syslog.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Log logs an audit event.
func (al *AuditLogger) Log(event *AuditEvent) {
	if !al.enabled {
		return
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	al.logger.Info("audit",
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", string(event.EventType)),
		slog.String("principal", event.Principal),
		slog.String("client_ip", event.ClientIP),
		slog.String("method", event.Method),
		slog.String("path", event.Path),
		slog.Int("status_code", event.StatusCode),
		slog.Duration("duration", event.Duration),
		slog.String("error", event.Error),
	)
}

// LogEvent is a convenience function for logging events from a handler.
func (al *AuditLogger) LogEvent(eventType AuditEventType, r *http.Request, statusCode int, err error) {
	if !al.enabled {
		return
	}

	var errStr string
	if err != nil {
		errStr = err.Error()
	}

	al.Log(&AuditEvent{
		Timestamp:  time.Now(),
		EventType:  eventType,
		Principal:  extractPrincipal(r.URL.Path),
		ClientIP:   getClientIP(r),
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: statusCode,
		Error:      errStr,
	})
}

// Middleware returns HTTP middleware for audit logging.
func (al *AuditLogger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !al.enabled {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		// The principal for most routes sits in the path. User creation
		// carries it in the body, so sniff username and org there. The raw
		// body itself is never logged.
		principal := extractPrincipal(r.URL.Path)
		if r.Method == http.MethodPost && r.URL.Path == "/users" && r.Body != nil {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<16))
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			var req struct {
				Username string `json:"username"`
				Org      string `json:"org"`
			}
			if json.Unmarshal(body, &req) == nil && req.Username != "" {
				principal = req.Username + "@" + req.Org
			}
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		eventType := determineEventType(r, rw.statusCode)
		if eventType == "" {
			return
		}

		al.Log(&AuditEvent{
			Timestamp:  start,
			EventType:  eventType,
			Principal:  principal,
			ClientIP:   getClientIP(r),
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rw.statusCode,
			Duration:   time.Since(start),
		})
	})
}

// determineEventType maps a request and its outcome to an audit event type.
// Requests outside the audited surface map to "".
func determineEventType(r *http.Request, statusCode int) AuditEventType {
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && path == "/users":
		if statusCode == http.StatusOK || statusCode == http.StatusCreated {
			return AuditEventUserCreated
		}
		if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
			return AuditEventUserCreateDenied
		}

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/requestpasswordreset"):
		if statusCode == http.StatusOK {
			return AuditEventPasswordResetRequested
		}

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/completepasswordreset"):
		if statusCode == http.StatusOK {
			return AuditEventPasswordResetCompleted
		}

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/sessions/"):
		if statusCode == http.StatusOK {
			return AuditEventLoginSuccess
		}
		// Failed logins answer 400 for a bad password and 404 for an
		// unknown user, not 401.
		switch statusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
			return AuditEventLoginFailure
		}

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/sessions/"):
		if statusCode == http.StatusOK {
			return AuditEventSessionKeyRevoked
		}
	}

	return ""
}

// extractPrincipal pulls the principal segment out of /users/{principal}/...
// and /sessions/{principal}/... paths.
func extractPrincipal(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && (parts[0] == "users" || parts[0] == "sessions") {
		return parts[1]
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Package types defines the request and response bodies of the auth
// services API. Field names and casing are preserved verbatim from the
// deployed service; note that the user endpoints answer with "Message"
// while the session and password-update endpoints answer with "message".
package types

import "time"

// CreateUserRequest is the POST /users body.
type CreateUserRequest struct {
	Username   string `json:"username"`
	Org        string `json:"org"`
	Email      string `json:"email"`
	ParentUser string `json:"parentuser,omitempty"`
	Key        string `json:"key,omitempty"`
}

// CompletePasswordResetRequest is the POST
// /users/{principal}/completepasswordreset body.
type CompletePasswordResetRequest struct {
	ResetID  string `json:"resetid"`
	Password string `json:"password"`
}

// LoginRequest is the POST /sessions/{principal} body. The password field
// carries the PBKDF2 equivalent, not the raw password.
type LoginRequest struct {
	Password string `json:"password"`
}

// SettingRequest is the PUT body for the admin settings endpoints.
type SettingRequest struct {
	Value string `json:"value"`
}

// MessageResponse is the "Message" envelope of the user endpoints.
type MessageResponse struct {
	Message string `json:"Message"`
}

// StatusMessageResponse is the lowercase "message" envelope of the session
// and password-update endpoints.
type StatusMessageResponse struct {
	Message string `json:"message"`
}

// ServerErrorResponse is the fixed 500 envelope.
type ServerErrorResponse struct {
	ServerError int    `json:"ServerError"`
	Message     string `json:"Message"`
}

// RequestErrorResponse is the 400 envelope for ambiguous lookups.
type RequestErrorResponse struct {
	RequestError int    `json:"RequestError"`
	Message      string `json:"Message"`
}

// UserResponse is the GET /users/{principal} body.
type UserResponse struct {
	Username   string    `json:"username"`
	Org        string    `json:"org"`
	ParentUser string    `json:"parentuser"`
	CreateDate time.Time `json:"createdate"`
}

// SessionInfo is the wire form of one session row.
type SessionInfo struct {
	SessionID  string    `json:"sessionid"`
	StartDate  time.Time `json:"startdate"`
	LastUpdate time.Time `json:"lastupdate"`
}

// LoginResponse returns the fresh session and its key.
type LoginResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
	Key     string `json:"key"`
}

// SessionsResponse lists the principal's sessions.
type SessionsResponse struct {
	Message  string        `json:"message"`
	Sessions []SessionInfo `json:"sessions"`
}

// SessionResponse carries a single session.
type SessionResponse struct {
	Message string      `json:"message"`
	Session SessionInfo `json:"session"`
}

// SettingResponse is the admin settings body. Org is empty for global
// settings.
type SettingResponse struct {
	Org     string `json:"org,omitempty"`
	Setting string `json:"setting"`
	Value   string `json:"value"`
}

// AdminStatusResponse is the GET /admin/status body.
type AdminStatusResponse struct {
	Version                  string `json:"version"`
	Commit                   string `json:"commit,omitempty"`
	BuildTime                string `json:"build_time,omitempty"`
	Storage                  string `json:"storage"`
	Keyspace                 string `json:"keyspace,omitempty"`
	Cluster                  string `json:"cluster,omitempty"`
	Ready                    bool   `json:"ready"`
	Store                    string `json:"store"`
	PendingMigrationRequests *int   `json:"pending_migration_requests,omitempty"`
}

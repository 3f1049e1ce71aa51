// Package protocol defines the JSON wire envelope shared by the Relay, the
// Agent, and every Client adapter.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the discriminator carried by every envelope.
type Type string

const (
	TypeAuth    Type = "auth"
	TypeCommand Type = "command"
	TypeOutput  Type = "output"
	TypeStatus  Type = "status"
	TypeError   Type = "error"
)

// Role identifies which side of the relay a peer authenticated as.
type Role string

const (
	RoleAgent  Role = "agent"
	RoleClient Role = "client"
)

// Envelope is the one-per-message JSON frame exchanged over every
// Agent<->Relay and Client<->Relay connection.
type Envelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Stamp sets Timestamp to the given time in epoch milliseconds. The Relay
// and Agent always call this when constructing an outbound envelope so the
// timestamp reflects send time, not payload-construction time.
func (e *Envelope) Stamp(now time.Time) {
	e.Timestamp = now.UnixMilli()
}

// Encode marshals payload into the envelope's Payload field.
func Encode(typ Type, sessionID string, now time.Time, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	env := &Envelope{Type: typ, SessionID: sessionID, Payload: raw}
	env.Stamp(now)
	return env, nil
}

// Decode unmarshals the envelope's Payload into dst.
func (e *Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// AuthPayload is the payload of a type=auth envelope.
type AuthPayload struct {
	Token string `json:"token"`
	Role  Role   `json:"role"`
}

// CommandName enumerates the commands a Client may issue (§4.2.4).
type CommandName string

const (
	CommandListProjects     CommandName = "list_projects"
	CommandListSessions     CommandName = "list_sessions"
	CommandStartSession     CommandName = "start_session"
	CommandSendInput        CommandName = "send_input"
	CommandCloseSession     CommandName = "close_session"
	CommandKeepalive        CommandName = "keepalive"
	CommandGetSessionHistory CommandName = "get_session_history"
	CommandGetLastOutput    CommandName = "get_last_session_output"
	CommandUploadFile       CommandName = "upload_file"
)

// CommandPayload is the union payload of a type=command envelope. Only the
// fields relevant to Command are expected to be populated; the rest are
// zero-valued and ignored.
type CommandPayload struct {
	Command     CommandName `json:"command"`
	ProjectID   string      `json:"projectId,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	Input       string      `json:"input,omitempty"`
	FileName    string      `json:"fileName,omitempty"`
	FileContent string      `json:"fileContent,omitempty"` // base64
	MimeType    string      `json:"mimeType,omitempty"`
}

// OutputPayload is the payload of a type=output envelope.
type OutputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// StatusName enumerates the status values a status envelope may carry.
type StatusName string

const (
	StatusConnected         StatusName = "connected"
	StatusDisconnected      StatusName = "disconnected"
	StatusSessionStarted    StatusName = "session_started"
	StatusSessionClosed     StatusName = "session_closed"
	StatusProjectsList      StatusName = "projects_list"
	StatusSessionsList      StatusName = "sessions_list"
	StatusSessionHistory    StatusName = "session_history"
	StatusLastSessionOutput StatusName = "last_session_output"
	StatusFileUploaded      StatusName = "file_uploaded"
	StatusContextSummary    StatusName = "context_summary"
)

// StatusPayload is the payload of a type=status envelope.
type StatusPayload struct {
	Status    StatusName `json:"status"`
	Data      any        `json:"data,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
}

// ErrorCode enumerates the error codes defined in §6, plus INTERNAL_ERROR
// for Agent-side failures that none of those codes covers.
type ErrorCode string

const (
	ErrInvalidJSON       ErrorCode = "INVALID_JSON"
	ErrAuthFailed        ErrorCode = "AUTH_FAILED"
	ErrNotAuthenticated  ErrorCode = "NOT_AUTHENTICATED"
	ErrAgentExists       ErrorCode = "AGENT_EXISTS"
	ErrInvalidRole       ErrorCode = "INVALID_ROLE"
	ErrNoAgent           ErrorCode = "NO_AGENT"
	ErrUnknownCommand    ErrorCode = "UNKNOWN_COMMAND"
	ErrProjectNotFound   ErrorCode = "PROJECT_NOT_FOUND"
	ErrMissingProjectID  ErrorCode = "MISSING_PROJECT_ID"
	ErrMissingSessionID  ErrorCode = "MISSING_SESSION_ID"
	ErrMissingInput      ErrorCode = "MISSING_INPUT"
	ErrSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	ErrMissingFileData   ErrorCode = "MISSING_FILE_DATA"
	ErrUploadFailed      ErrorCode = "UPLOAD_FAILED"
	ErrNoSessionManager  ErrorCode = "NO_SESSION_MANAGER"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// ErrorPayload is the payload of a type=error envelope.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Close codes sent on the underlying WebSocket close frame (§6).
const (
	CloseAuthFailed  = 4001
	CloseAgentExists = 4002
	CloseInvalidRole = 4003
)

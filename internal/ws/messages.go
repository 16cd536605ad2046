package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"taskflow/internal/services/directory"
)

// Inbound (client -> server) events.
const (
	EventJoinProject       = "join:project"
	EventLeaveProject      = "leave:project"
	EventSubscribeTask     = "subscribe:task"
	EventUnsubscribeTask   = "unsubscribe:task"
	EventTypingStart       = "typing:start"
	EventTypingStop        = "typing:stop"
	EventPresenceUpdate    = "presence:update"
	EventActivityHeartbeat = "activity:heartbeat"
)

// Outbound (server -> client) events. Typing and presence reuse the
// inbound names when relayed.
const (
	EventConnected        = "connected"
	EventJoinedProject    = "joined:project"
	EventLeftProject      = "left:project"
	EventSubscribedTask   = "subscribed:task"
	EventUnsubscribedTask = "unsubscribed:task"
	EventUserJoined       = "user:joined"
	EventUserLeft         = "user:left"
	EventErrorFrame       = "error"
	EventTaskUpdated      = "task:updated"
	EventCommentAdded     = "comment:added"
	EventProjectUpdated   = "project:updated"
	EventPing             = "ping"
)

// Stable error codes carried by "error" events.
const (
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeJoinProjectError = "JOIN_PROJECT_ERROR"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Disconnect reasons reported in "user:left".
const (
	ReasonClientDisconnect = "client disconnect"
	ReasonTransportError   = "transport error"
	ReasonSlowConsumer     = "slow consumer"
	ReasonServerShutdown   = "server shutdown"
)

// Envelope wraps every inbound WS frame.
type Envelope struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Frame is the outbound wire shape. Every frame is timestamped at emission.
type Frame struct {
	Event     string    `json:"event"`
	Body      any       `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeFrame(event string, body any, ts time.Time) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Body: body, Timestamp: ts.UTC()})
}

// ──────────────────────────── Request DTOs ──────────────────────────────────

type ProjectRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
}

type TaskRequest struct {
	TaskID string `json:"taskId" validate:"required"`
}

type TypingRequest struct {
	TaskID    string `json:"taskId"    validate:"required"`
	CommentID string `json:"commentId,omitempty"`
}

type PresenceRequest struct {
	Status string `json:"status" validate:"required,oneof=online away busy"`
}

type HeartbeatRequest struct{}

// ──────────────────────────── Response bodies ───────────────────────────────

type ConnectedBody struct {
	ConnectionID string         `json:"connectionId"`
	User         directory.User `json:"user"`
}

type ProjectAckBody struct {
	ProjectID string `json:"projectId"`
}

type TaskAckBody struct {
	TaskID string `json:"taskId"`
}

type UserJoinedBody struct {
	User      directory.User `json:"user"`
	ProjectID string         `json:"projectId"`
}

type UserLeftBody struct {
	User      directory.User `json:"user"`
	ProjectID string         `json:"projectId"`
	Reason    string         `json:"reason"`
}

type TypingBody struct {
	User      directory.User `json:"user"`
	TaskID    string         `json:"taskId"`
	CommentID string         `json:"commentId,omitempty"`
}

type PresenceBody struct {
	User   directory.User `json:"user"`
	Status string         `json:"status"`
}

type TaskUpdatedBody struct {
	Task    any `json:"task"`
	Changes any `json:"changes"`
}

type CommentAddedBody struct {
	Comment any    `json:"comment"`
	TaskID  string `json:"taskId"`
}

type ProjectUpdatedBody struct {
	Project any `json:"project"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// EventError is a handler failure that is reported in-band to the sender.
type EventError struct {
	Code    string
	Message string
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

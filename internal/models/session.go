package models

import "time"

// SessionStatus is the orchestrator-level view of a session's health.
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionActive   SessionStatus = "active"
	SessionIdle     SessionStatus = "idle"
	SessionError    SessionStatus = "error"
	SessionStopped  SessionStatus = "stopped"
)

// WindowPrefix namespaces multiplexer windows owned by this server so
// orphans can be rediscovered after a restart.
const WindowPrefix = "ccm-"

// Session binds a worktree to a live terminal window and its web-terminal
// gateway. It is a projection assembled on demand from the terminal
// supervisor, the gateway supervisor and the registry row; it is never held
// as mutable shared state.
type Session struct {
	ID           string        `json:"id"`
	WorktreeID   string        `json:"worktreeId"`
	WorktreePath string        `json:"worktreePath"`
	WindowName   string        `json:"windowName"`
	GatewayPort  *int          `json:"gatewayPort"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	URL          string        `json:"url"`
}

// MessageRole identifies the author of a transcript entry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageType distinguishes transcript entry payloads.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageToolUse    MessageType = "tool_use"
	MessageToolResult MessageType = "tool_result"
	MessageThinking   MessageType = "thinking"
	MessageError      MessageType = "error"
)

// Message is one ordered transcript entry, owned by its session and
// cascade-deleted with it.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Role      MessageRole `json:"role"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// WindowStatus reflects what the multiplexer reports for a window.
type WindowStatus string

const (
	WindowRunning  WindowStatus = "running"
	WindowStarting WindowStatus = "starting"
	WindowStopped  WindowStatus = "stopped"
	WindowError    WindowStatus = "error"
)

// TerminalWindow is the terminal supervisor's record of one multiplexer
// window. WorktreePath may be empty for discovered windows whose working
// directory could not be resolved.
type TerminalWindow struct {
	SessionID    string       `json:"sessionId"`
	WindowName   string       `json:"windowName"`
	WorktreePath string       `json:"worktreePath"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Status       WindowStatus `json:"status"`
}

// GatewayInstance is one running web-terminal subprocess bound to a
// loopback port and attached to a multiplexer window.
type GatewayInstance struct {
	SessionID  string    `json:"sessionId"`
	Port       int       `json:"port"`
	PID        int       `json:"pid"`
	WindowName string    `json:"windowName"`
	StartedAt  time.Time `json:"startedAt"`
}

// SessionURL derives the iframe path for a session ID.
func SessionURL(sid string) string {
	return "/t/" + sid + "/"
}

// WindowName derives the multiplexer window name for a session ID.
func WindowName(sid string) string {
	return WindowPrefix + sid
}

// WindowStatusToSession maps multiplexer window state onto session status.
func WindowStatusToSession(s WindowStatus) SessionStatus {
	switch s {
	case WindowRunning:
		return SessionActive
	case WindowStarting:
		return SessionIdle
	case WindowStopped:
		return SessionStopped
	case WindowError:
		return SessionError
	default:
		return SessionError
	}
}

// Package session persists call sessions, their turn history, and the
// per-environment runtime configuration in SQLite.
package session

import (
	"encoding/json"
	"errors"
	"time"
)

// Domain errors surfaced by the store.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
	ErrConfigNotFound  = errors.New("config not found")
)

// GuestCustomerID is the customer binding of a session before any identity
// has been verified.
const GuestCustomerID = "guest"

// Session is one ongoing or completed call.
type Session struct {
	SessionID            string    `json:"session_id"`
	CustomerID           string    `json:"customer_id"`
	EnvKey               string    `json:"env_key"`
	VerifiedIdentity     bool      `json:"verified_identity"`
	VerificationAttempts int       `json:"verification_attempts"`
	CurrentFlow          string    `json:"current_flow"`
	Ended                bool      `json:"ended"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ToolCallRecord is one tool invocation as persisted in a turn's log.
// Args is the raw argument JSON after PIN redaction.
type ToolCallRecord struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Turn is one immutable request/response exchange. UserTranscript is nil for
// synthetic greeting and closing turns.
type Turn struct {
	ID             int64            `json:"id"`
	SessionID      string           `json:"session_id"`
	TS             time.Time        `json:"ts"`
	UserTranscript *string          `json:"user_transcript"`
	AgentResponse  string           `json:"agent_response"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
}

// RuntimeConfig is the per-environment configuration partition read at
// session start and on every turn. A missing tool in ToolFlags means the
// tool is enabled.
type RuntimeConfig struct {
	EnvKey           string            `json:"env_key"`
	BaseSystemPrompt string            `json:"base_system_prompt"`
	RouterPrompt     string            `json:"router_prompt"`
	ToolFlags        map[string]bool   `json:"tool_flags"`
	RoutingRules     map[string]string `json:"routing_rules"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a single completion call. Voice turns cannot wait
// longer than this without the caller hanging up.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the LLM package.
var (
	ErrNoCandidates = errors.New("no model candidates configured")
	ErrNoChoices    = errors.New("no choices returned")
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provider is the interface to a reasoning/completion backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "groq").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message represents a chat message. Assistant messages may carry tool
// invocation requests; tool messages carry the result for one of them.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCalls  []ToolCall // assistant role only
	ToolCallID string     // tool role only
	Name       string     // tool role only: the tool's name
}

// Tool is a tool definition exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolCall is a request from the model to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Response represents a completion response.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Model        string
	InputTokens  int
	OutputTokens int
}

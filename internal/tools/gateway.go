package tools

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/bankabc/voicegate/internal/llm"
)

// Error payloads returned through the gateway.
const (
	errToolDisabled     = "tool_disabled"
	errUnknownTool      = "unknown_tool"
	errInvalidArguments = "invalid_arguments"
)

// Gateway mediates every tool invocation for one turn. The flag map comes
// from the environment's RuntimeConfig, loaded at turn start; a tool with
// no entry is enabled.
type Gateway struct {
	registry *Registry
	flags    map[string]bool
}

// NewGateway creates a gateway over the registry with the given runtime
// enable flags.
func NewGateway(registry *Registry, flags map[string]bool) *Gateway {
	return &Gateway{registry: registry, flags: flags}
}

// Enabled reports whether the named tool's runtime flag allows invocation.
func (g *Gateway) Enabled(name string) bool {
	enabled, ok := g.flags[name]
	return !ok || enabled
}

// Specs returns the tool definitions exposed to the model this turn,
// excluding disabled tools.
func (g *Gateway) Specs() []llm.Tool {
	return g.registry.Specs(g.flags)
}

// Execute runs the named tool. The disabled-flag gate fires first with no
// side effect, then the arguments are checked against the tool's input
// schema; everything after (verification, lookup, effect) is the tool's own
// gate order. The returned string is always a payload for the model, never
// an error.
func (g *Gateway) Execute(ctx context.Context, name string, args json.RawMessage) string {
	if !g.Enabled(name) {
		log.Warn().Str("tool", name).Msg("tool_call_rejected_disabled")
		return errorPayload(errToolDisabled)
	}
	tool, ok := g.registry.Get(name)
	if !ok {
		log.Warn().Str("tool", name).Msg("tool_call_unknown")
		return errorPayload(errUnknownTool)
	}
	if !validArgs(tool, args) {
		log.Warn().Str("tool", name).Msg("tool_call_rejected_invalid_args")
		return errorPayload(errInvalidArguments)
	}
	return tool.Execute(ctx, args)
}

// validArgs checks model-supplied arguments against the tool's input schema.
// Providers encode no-argument calls as an empty string; that is an empty
// object for validation purposes.
func validArgs(tool Tool, args json.RawMessage) bool {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(tool.InputSchema()),
		gojsonschema.NewBytesLoader(args),
	)
	return err == nil && result.Valid()
}

// errorPayload renders the canonical {"error": code} payload.
func errorPayload(code string) string {
	b, _ := json.Marshal(map[string]string{"error": code})
	return string(b)
}

// listErrorPayload renders the list-shaped error payload used by tools whose
// success result is a list.
func listErrorPayload(code string) string {
	b, _ := json.Marshal([]map[string]string{{"error": code}})
	return string(b)
}

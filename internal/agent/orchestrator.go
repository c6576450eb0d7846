// Package agent composes the per-turn pipeline: route the utterance, call
// the reasoning service with the gated tool set, execute requested tools,
// extract verification events, guard the final answer, and persist the turn.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bankabc/voicegate/internal/bank"
	"github.com/bankabc/voicegate/internal/flow"
	"github.com/bankabc/voicegate/internal/guard"
	"github.com/bankabc/voicegate/internal/llm"
	vgotel "github.com/bankabc/voicegate/internal/otel"
	"github.com/bankabc/voicegate/internal/session"
	"github.com/bankabc/voicegate/internal/tools"
	"github.com/bankabc/voicegate/internal/verify"
)

var tracer = vgotel.Tracer("github.com/bankabc/voicegate/internal/agent")

// ErrEmptyTranscript means speech-to-text produced no text; the turn aborts
// with no session mutation.
var ErrEmptyTranscript = errors.New("empty transcript")

// pinMask replaces PIN arguments in the persisted tool log.
const pinMask = "****"

// exhaustedLoopAnswer is spoken when the reasoning service keeps requesting
// tools past the step ceiling without producing a final answer.
const exhaustedLoopAnswer = "I'm sorry, I'm having trouble completing that request right now. Could you rephrase it?"

// UpstreamUnavailableError reports that every model candidate failed. When
// the last failure was rate-limit shaped, RetryAfter may carry the parsed
// wait hint.
type UpstreamUnavailableError struct {
	Err         error
	RetryAfter  time.Duration
	RateLimited bool
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("reasoning service unavailable: %v", e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// StartResult is the outcome of starting a call.
type StartResult struct {
	SessionID  string
	Greeting   string
	IsVerified bool
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	UserTranscript string
	AgentResponse  string
	IsVerified     bool
	Flow           string
}

// Orchestrator drives the guarded turn pipeline over shared collaborators.
// The model invoker's active pointer is the only mutable state shared
// across sessions; everything else is per-turn or behind the store.
type Orchestrator struct {
	store        *session.Store
	dir          *bank.Directory
	invoker      *llm.Invoker
	router       *flow.Router
	guardrail    *guard.Guardrail
	locker       *session.Locker
	maxLoopSteps int
	defaultEnv   string
}

// New returns an orchestrator over the given collaborators.
func New(store *session.Store, dir *bank.Directory, invoker *llm.Invoker, router *flow.Router, guardrail *guard.Guardrail, maxLoopSteps int, defaultEnv string) *Orchestrator {
	if maxLoopSteps <= 0 {
		maxLoopSteps = 8
	}
	return &Orchestrator{
		store:        store,
		dir:          dir,
		invoker:      invoker,
		router:       router,
		guardrail:    guardrail,
		locker:       session.NewLocker(),
		maxLoopSteps: maxLoopSteps,
		defaultEnv:   defaultEnv,
	}
}

// DefaultRuntimeConfig is the first-touch config for an environment: the
// base prompt with every tool enabled.
func DefaultRuntimeConfig(envKey string) *session.RuntimeConfig {
	return &session.RuntimeConfig{
		EnvKey:           envKey,
		BaseSystemPrompt: baseSystemPrompt,
		RouterPrompt:     flow.RouterPrompt,
		ToolFlags:        map[string]bool{},
		RoutingRules:     map[string]string{},
	}
}

// StartCall creates a session in the given environment (or the default when
// empty), provisions the environment's config, and persists the greeting as
// a synthetic turn.
func (o *Orchestrator) StartCall(ctx context.Context, envKey string) (*StartResult, error) {
	ctx, span := tracer.Start(ctx, "agent.start_call")
	defer span.End()

	if envKey == "" {
		envKey = o.defaultEnv
	}
	sessionID := "call_" + uuid.New().String()[:12]
	sess, err := o.store.CreateSession(ctx, sessionID, envKey)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.EnsureEnvConfig(ctx, envKey, DefaultRuntimeConfig(envKey)); err != nil {
		return nil, err
	}
	if err := o.store.AppendTurn(ctx, &session.Turn{
		SessionID:     sess.SessionID,
		AgentResponse: GreetingMessage,
	}); err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sess.SessionID).Str("env_key", envKey).Msg("call_started")
	span.SetAttributes(attribute.String("session_id", sess.SessionID))
	return &StartResult{SessionID: sess.SessionID, Greeting: GreetingMessage}, nil
}

// EndCall ends the session and persists the closing message as a synthetic
// turn. Ending an unknown or already-ended session fails.
func (o *Orchestrator) EndCall(ctx context.Context, sessionID string) (string, error) {
	ctx, span := tracer.Start(ctx, "agent.end_call",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	unlock := o.locker.Lock(sessionID)
	defer unlock()

	if err := o.store.EndSession(ctx, sessionID); err != nil {
		return "", err
	}
	if err := o.store.AppendTurn(ctx, &session.Turn{
		SessionID:     sessionID,
		AgentResponse: ClosingMessage,
	}); err != nil {
		return "", err
	}
	log.Info().Str("session_id", sessionID).Msg("call_ended")
	return ClosingMessage, nil
}

// Turn executes one guarded turn for the transcript. Turns on the same
// session serialize; independent sessions run concurrently.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, transcript string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	if transcript == "" {
		return nil, ErrEmptyTranscript
	}

	unlock := o.locker.Lock(sessionID)
	defer unlock()

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Ended {
		return nil, session.ErrSessionEnded
	}
	cfg, err := o.store.EnsureEnvConfig(ctx, sess.EnvKey, DefaultRuntimeConfig(sess.EnvKey))
	if err != nil {
		return nil, err
	}

	flowLabel := o.router.Classify(ctx, cfg.RouterPrompt, transcript, sess.CurrentFlow)
	if flowLabel != sess.CurrentFlow {
		if err := o.store.SetFlow(ctx, sessionID, flowLabel); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("flow", flowLabel))

	// Verification state lives per turn, rehydrated from the session.
	eng := verify.NewEngine(o.dir)
	if sess.VerifiedIdentity && sess.CustomerID != session.GuestCustomerID {
		eng.Hydrate(sess.CustomerID, true)
	}
	gateway := tools.NewGateway(tools.NewBankingRegistry(o.dir, eng), cfg.ToolFlags)

	messages, err := o.replayHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: transcript})

	systemPrompt := cfg.BaseSystemPrompt +
		fmt.Sprintf(systemPromptContext, flowLabel, sess.CustomerID, sess.VerifiedIdentity)

	answer, toolTrace, callLog, verification, err := o.reason(ctx, gateway, systemPrompt, messages)
	if err != nil {
		return nil, err
	}

	// Bind verification outcomes before the guardrail reads the session's
	// identity, so a mid-turn verification counts for this turn's answer.
	if verification.attempts > 0 {
		customerID := sess.CustomerID
		verified := sess.VerifiedIdentity
		if verification.verifiedCustomer != "" {
			customerID = verification.verifiedCustomer
			verified = true
		}
		if err := o.store.SetVerification(ctx, sessionID, customerID, verified, verification.attempts); err != nil {
			return nil, err
		}
		sess.CustomerID = customerID
		sess.VerifiedIdentity = verified
	}

	answer, guardResult := o.guardrail.Scrub(ctx, answer, toolTrace, guardCustomerID(sess))
	if guardResult.Tripped {
		span.SetAttributes(attribute.Bool("guardrail_tripped", true))
	}

	turn := &session.Turn{
		SessionID:      sessionID,
		UserTranscript: &transcript,
		AgentResponse:  answer,
		ToolCalls:      callLog,
	}
	if err := o.store.AppendTurn(ctx, turn); err != nil {
		return nil, err
	}
	if err := o.store.Touch(ctx, sessionID); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", sessionID).
		Str("flow", flowLabel).
		Int("tool_calls", len(callLog)).
		Bool("verified", sess.VerifiedIdentity).
		Bool("guardrail_tripped", guardResult.Tripped).
		Msg("turn_completed")

	return &TurnResult{
		UserTranscript: transcript,
		AgentResponse:  answer,
		IsVerified:     sess.VerifiedIdentity,
		Flow:           flowLabel,
	}, nil
}

// replayHistory rebuilds the prior conversation in ts order. Synthetic
// turns contribute only their agent side.
func (o *Orchestrator) replayHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	turns, err := o.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(turns)*2)
	for _, t := range turns {
		if t.UserTranscript != nil {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: *t.UserTranscript})
		}
		if t.AgentResponse != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: t.AgentResponse})
		}
	}
	return messages, nil
}

// verificationEvents accumulates verify_identity activity across the tool
// loop. verifiedCustomer is the canonical ID of the first successful
// verification, empty if none succeeded.
type verificationEvents struct {
	attempts         int
	verifiedCustomer string
}

// reason runs the bounded tool loop until the service produces a final
// non-tool answer or the step ceiling is hit.
func (o *Orchestrator) reason(ctx context.Context, gateway *tools.Gateway, systemPrompt string, messages []llm.Message) (string, []guard.TraceEntry, []session.ToolCallRecord, verificationEvents, error) {
	var toolTrace []guard.TraceEntry
	var callLog []session.ToolCallRecord
	var events verificationEvents

	specs := gateway.Specs()
	for step := 0; step < o.maxLoopSteps; step++ {
		resp, err := o.invoker.Invoke(ctx, systemPrompt, messages, specs)
		if err != nil {
			return "", nil, nil, events, upstreamError(err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, toolTrace, callLog, events, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := gateway.Execute(ctx, call.Name, json.RawMessage(call.Arguments))
			toolTrace = append(toolTrace, guard.TraceEntry{Name: call.Name, Result: result})
			callLog = append(callLog, session.ToolCallRecord{
				Name: call.Name,
				Args: redactPIN(call.Arguments),
			})
			o.recordVerification(call, result, &events)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	log.Warn().Int("max_steps", o.maxLoopSteps).Msg("tool_loop_exhausted")
	return exhaustedLoopAnswer, toolTrace, callLog, events, nil
}

// recordVerification tracks verify_identity attempts and binds the first
// success to its canonical customer ID. Only calls the tool actually
// evaluated count; gateway rejections (disabled tool, invalid arguments)
// return an error payload rather than "true"/"false" and are not attempts.
func (o *Orchestrator) recordVerification(call llm.ToolCall, result string, events *verificationEvents) {
	if call.Name != "verify_identity" {
		return
	}
	if result != "true" && result != "false" {
		return
	}
	events.attempts++
	if result != "true" || events.verifiedCustomer != "" {
		return
	}
	var args struct {
		CustomerID string `json:"customer_id"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return
	}
	normalized := verify.NormalizeCustomerID(args.CustomerID)
	if canonical, ok := o.dir.Resolve(normalized); ok {
		events.verifiedCustomer = canonical
	}
}

func guardCustomerID(sess *session.Session) string {
	if sess.CustomerID == session.GuestCustomerID {
		return ""
	}
	return sess.CustomerID
}

func upstreamError(err error) error {
	ue := &UpstreamUnavailableError{Err: err}
	if llm.IsRateLimited(err) {
		ue.RateLimited = true
		if wait, ok := llm.ParseRetryAfter(err); ok {
			ue.RetryAfter = wait
		}
	}
	return ue
}

// redactPIN masks the pin argument before a tool call is persisted. Calls
// whose arguments don't parse are stored as an empty object rather than
// risking a raw PIN in history.
func redactPIN(arguments string) json.RawMessage {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return json.RawMessage(`{}`)
	}
	if _, ok := args["pin"]; ok {
		args["pin"] = pinMask
	}
	out, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

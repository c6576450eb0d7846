// Package flow classifies caller utterances into conversation flows and keeps
// the session sticky to its current flow when a turn is ambiguous.
package flow

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bankabc/voicegate/internal/llm"
	vgotel "github.com/bankabc/voicegate/internal/otel"
)

var tracer = vgotel.Tracer("github.com/bankabc/voicegate/internal/flow")

// Flow labels. These are the only values ever persisted on a session.
const (
	FlowCardATMIssues     = "card_atm_issues"
	FlowAccountServicing  = "account_servicing"
	FlowAccountOpening    = "account_opening"
	FlowDigitalAppSupport = "digital_app_support"
	FlowTransfersBillPay  = "transfers_and_bill_payments"
	FlowClosureRetention  = "account_closure_retention"
)

// DefaultFlow is used when nothing else applies: no current flow and no
// classifiable signal in the utterance.
const DefaultFlow = FlowAccountServicing

var validFlows = map[string]bool{
	FlowCardATMIssues:     true,
	FlowAccountServicing:  true,
	FlowAccountOpening:    true,
	FlowDigitalAppSupport: true,
	FlowTransfersBillPay:  true,
	FlowClosureRetention:  true,
}

// Valid reports whether label is a known flow.
func Valid(label string) bool { return validFlows[label] }

// RouterPrompt is the built-in classifier instruction. It seeds each
// environment's runtime config, where admins may replace it.
const RouterPrompt = `You are an intent router for a retail bank's phone line.
Classify the caller's latest utterance into exactly one of these flows:

- card_atm_issues: lost, stolen, blocked or swallowed cards, ATM problems, cash not dispensed
- account_servicing: balances, transactions, statements, address or contact updates
- account_opening: opening a new account or product enquiries for new accounts
- digital_app_support: mobile app or online banking problems, login issues, passwords
- transfers_and_bill_payments: sending money, standing orders, direct debits, bill payments
- account_closure_retention: closing an account or leaving the bank

If the utterance is ambiguous, a short acknowledgement ("yes", "okay", "that one"),
or continues the current topic, answer current.

Respond with only the flow label or the word current. No other text.`

// Invoker is the slice of llm.Invoker the router needs.
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error)
}

// Router labels utterances with a conversation flow.
type Router struct {
	inv Invoker
}

// NewRouter returns a router backed by the given model invoker.
func NewRouter(inv Invoker) *Router {
	return &Router{inv: inv}
}

// Classify returns the flow for the utterance. The prompt comes from the
// environment's runtime config; when empty, the built-in RouterPrompt is
// used. Classifier failures and unrecognized labels never surface to the
// caller: the session stays on its current flow when that flow is valid,
// and falls back to DefaultFlow otherwise.
func (r *Router) Classify(ctx context.Context, prompt, utterance, currentFlow string) string {
	ctx, span := tracer.Start(ctx, "flow.Classify")
	defer span.End()

	if prompt == "" {
		prompt = RouterPrompt
	}
	fallback := DefaultFlow
	if Valid(currentFlow) {
		fallback = currentFlow
	}

	msg := utterance
	if currentFlow != "" {
		msg = "Current flow: " + currentFlow + "\nCaller: " + utterance
	}
	resp, err := r.inv.Invoke(ctx, prompt, []llm.Message{
		{Role: llm.RoleUser, Content: msg},
	}, nil)
	if err != nil {
		log.Warn().Err(err).Str("current_flow", currentFlow).Msg("flow_classifier_unavailable")
		return fallback
	}

	label := strings.ToLower(strings.TrimSpace(resp.Content))
	label = strings.Trim(label, "\"'.")
	if label == "current" {
		return fallback
	}
	if Valid(label) {
		return label
	}
	log.Debug().Str("label", label).Msg("flow_classifier_unknown_label")
	return fallback
}

package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Invoker calls the reasoning service, retrying across an ordered list of
// model identifiers when a candidate fails. The active model is a shared
// performance hint: the last candidate that answered successfully goes
// first on the next call. It is not correctness-bearing, so last-writer-wins
// under concurrent turns is acceptable.
type Invoker struct {
	provider   Provider
	candidates []string

	mu     sync.Mutex
	active string
}

// NewInvoker creates an invoker over the given candidate order. The list
// head starts as the active model.
func NewInvoker(provider Provider, candidates []string) (*Invoker, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return &Invoker{
		provider:   provider,
		candidates: append([]string(nil), candidates...),
		active:     candidates[0],
	}, nil
}

// ActiveModel returns the current active model identifier.
func (inv *Invoker) ActiveModel() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.active
}

// trialOrder returns the active model first, then the remaining candidates
// in configured order.
func (inv *Invoker) trialOrder() []string {
	active := inv.ActiveModel()
	order := make([]string, 0, len(inv.candidates))
	order = append(order, active)
	for _, c := range inv.candidates {
		if c != active {
			order = append(order, c)
		}
	}
	return order
}

// Invoke attempts the completion against each candidate in trial order.
// Every failure, rate-limit-shaped or otherwise, moves on to the next
// candidate; the last error is kept and returned only when all candidates
// fail. On success the answering candidate is promoted to active.
func (inv *Invoker) Invoke(ctx context.Context, systemPrompt string, messages []Message, tools []Tool) (*Response, error) {
	ctx, span := tracer.Start(ctx, "llm.invoke",
		trace.WithAttributes(attribute.Int("llm.candidates", len(inv.candidates))))
	defer span.End()

	full := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		full = append(full, Message{Role: RoleSystem, Content: systemPrompt})
	}
	full = append(full, messages...)

	var lastErr error
	for _, model := range inv.trialOrder() {
		req := &Request{
			Model:       model,
			Messages:    full,
			Temperature: 0,
			MaxTokens:   1024,
			Tools:       tools,
		}
		resp, err := inv.provider.Generate(ctx, req)
		if err == nil {
			inv.mu.Lock()
			promoted := inv.active != model
			inv.active = model
			inv.mu.Unlock()
			if promoted {
				log.Info().Str("model", model).Msg("model_promoted_to_active")
			}
			recordInvocation(ctx, model, promoted)
			span.SetAttributes(attribute.String("gen_ai.request.model", model))
			return resp, nil
		}

		lastErr = err
		if IsRateLimited(err) {
			log.Warn().Str("model", model).Err(err).Msg("model_rate_limited_trying_next")
		} else {
			log.Warn().Str("model", model).Err(err).Msg("model_failed_trying_next")
		}
	}

	span.RecordError(lastErr)
	return nil, fmt.Errorf("all model candidates failed: %w", lastErr)
}

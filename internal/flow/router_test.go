package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bankabc/voicegate/internal/llm"
)

type stubInvoker struct {
	content    string
	err        error
	lastMsg    string
	lastPrompt string
}

func (s *stubInvoker) Invoke(ctx context.Context, systemPrompt string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	s.lastPrompt = systemPrompt
	if len(messages) > 0 {
		s.lastMsg = messages[len(messages)-1].Content
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func TestClassifyRecognizedLabel(t *testing.T) {
	r := NewRouter(&stubInvoker{content: "card_atm_issues"})
	got := r.Classify(context.Background(), "", "my card was stolen", "")
	assert.Equal(t, FlowCardATMIssues, got)
}

func TestClassifyTrimsDecoration(t *testing.T) {
	r := NewRouter(&stubInvoker{content: " \"Transfers_and_Bill_Payments\". "})
	got := r.Classify(context.Background(), "", "I want to pay my electricity bill", "")
	assert.Equal(t, FlowTransfersBillPay, got)
}

func TestClassifyStickyOnCurrent(t *testing.T) {
	r := NewRouter(&stubInvoker{content: "current"})
	got := r.Classify(context.Background(), "", "yes", FlowCardATMIssues)
	assert.Equal(t, FlowCardATMIssues, got)
}

func TestClassifyStickyOnUnknownLabel(t *testing.T) {
	r := NewRouter(&stubInvoker{content: "loan_enquiries"})
	got := r.Classify(context.Background(), "", "yes", FlowDigitalAppSupport)
	assert.Equal(t, FlowDigitalAppSupport, got)
}

func TestClassifyDefaultWhenNoCurrent(t *testing.T) {
	r := NewRouter(&stubInvoker{content: "current"})
	got := r.Classify(context.Background(), "", "hello", "")
	assert.Equal(t, DefaultFlow, got)
}

func TestClassifyDefaultWhenCurrentInvalid(t *testing.T) {
	r := NewRouter(&stubInvoker{content: "nonsense"})
	got := r.Classify(context.Background(), "", "hello", "legacy_flow")
	assert.Equal(t, DefaultFlow, got)
}

func TestClassifierErrorDegradesToCurrent(t *testing.T) {
	r := NewRouter(&stubInvoker{err: errors.New("status code: 429")})
	got := r.Classify(context.Background(), "", "my card was stolen", FlowAccountServicing)
	assert.Equal(t, FlowAccountServicing, got)
}

func TestClassifyUsesConfiguredPrompt(t *testing.T) {
	s := &stubInvoker{content: "card_atm_issues"}
	r := NewRouter(s)

	r.Classify(context.Background(), "", "my card was stolen", "")
	assert.Equal(t, RouterPrompt, s.lastPrompt)

	custom := "Route the caller. Answer with one flow label."
	r.Classify(context.Background(), custom, "my card was stolen", "")
	assert.Equal(t, custom, s.lastPrompt)
}

func TestClassifyIncludesCurrentFlowContext(t *testing.T) {
	s := &stubInvoker{content: "current"}
	r := NewRouter(s)
	r.Classify(context.Background(), "", "yes", FlowCardATMIssues)
	assert.Contains(t, s.lastMsg, "Current flow: card_atm_issues")
	assert.Contains(t, s.lastMsg, "yes")
}

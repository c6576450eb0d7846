package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider fails or succeeds per model name and records call order.
type scriptedProvider struct {
	errs  map[string]error
	calls []string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	p.calls = append(p.calls, req.Model)
	if err, ok := p.errs[req.Model]; ok && err != nil {
		return nil, err
	}
	return &Response{Content: "answer from " + req.Model, Model: req.Model, FinishReason: "stop"}, nil
}

var errRateLimited = errors.New("rate limit reached for model, please try again in 2m59.56s")

func TestInvokerFallbackOnRateLimit(t *testing.T) {
	p := &scriptedProvider{errs: map[string]error{"model-a": errRateLimited}}
	inv, err := NewInvoker(p, []string{"model-a", "model-b", "model-c"})
	require.NoError(t, err)

	resp, err := inv.Invoke(context.Background(), "sys", []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer from model-b", resp.Content)
	assert.Equal(t, "model-b", inv.ActiveModel())
	assert.Equal(t, []string{"model-a", "model-b"}, p.calls)
}

func TestInvokerContinuesPastNonRateLimitErrors(t *testing.T) {
	p := &scriptedProvider{errs: map[string]error{
		"model-a": errors.New("connection reset"),
		"model-b": errors.New("bad gateway"),
	}}
	inv, err := NewInvoker(p, []string{"model-a", "model-b", "model-c"})
	require.NoError(t, err)

	resp, err := inv.Invoke(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer from model-c", resp.Content)
	assert.Equal(t, "model-c", inv.ActiveModel())
}

func TestInvokerReturnsLastErrorWhenAllFail(t *testing.T) {
	p := &scriptedProvider{errs: map[string]error{
		"model-a": errors.New("boom a"),
		"model-b": errRateLimited,
	}}
	inv, err := NewInvoker(p, []string{"model-a", "model-b"})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	// Active model untouched on total failure.
	assert.Equal(t, "model-a", inv.ActiveModel())
}

func TestInvokerTriesActiveModelFirst(t *testing.T) {
	p := &scriptedProvider{errs: map[string]error{"model-a": errRateLimited}}
	inv, err := NewInvoker(p, []string{"model-a", "model-b"})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "", []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "model-b", inv.ActiveModel())

	// Next call starts with the promoted model; model-a is not retried.
	p.calls = nil
	_, err = inv.Invoke(context.Background(), "", []Message{{Role: "user", Content: "again"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"model-b"}, p.calls)
}

func TestInvokerPrependsSystemPrompt(t *testing.T) {
	var seen []Message
	p := &capturingProvider{capture: &seen}
	inv, err := NewInvoker(p, []string{"model-a"})
	require.NoError(t, err)

	_, err = inv.Invoke(context.Background(), "be brief", []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, "system", seen[0].Role)
	assert.Equal(t, "be brief", seen[0].Content)
}

func TestNewInvokerRequiresCandidates(t *testing.T) {
	_, err := NewInvoker(&scriptedProvider{}, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

type capturingProvider struct {
	capture *[]Message
}

func (p *capturingProvider) Name() string { return "capturing" }

func (p *capturingProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	*p.capture = append([]Message(nil), req.Messages...)
	return &Response{Content: "ok", Model: req.Model}, nil
}

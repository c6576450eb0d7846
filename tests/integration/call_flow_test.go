//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankabc/voicegate/internal/agent"
	"github.com/bankabc/voicegate/internal/bank"
	"github.com/bankabc/voicegate/internal/flow"
	"github.com/bankabc/voicegate/internal/guard"
	"github.com/bankabc/voicegate/internal/llm"
	"github.com/bankabc/voicegate/internal/server"
	"github.com/bankabc/voicegate/internal/session"
)

// scriptedProvider returns queued responses in order, then repeats the last.
type scriptedProvider struct {
	responses []*llm.Response
	calls     int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

type staticRouterInvoker struct{ label string }

func (s *staticRouterInvoker) Invoke(ctx context.Context, systemPrompt string, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	return &llm.Response{Content: s.label}, nil
}

type echoTranscriber struct{ text string }

func (e *echoTranscriber) Transcribe(ctx context.Context, audio []byte) string { return e.text }

type silentSynthesizer struct{}

func (silentSynthesizer) Synthesize(ctx context.Context, text string) []byte { return nil }

func newStack(t *testing.T, provider llm.Provider, routerLabel string) (*agent.Orchestrator, *session.Store, *bank.Directory) {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	inv, err := llm.NewInvoker(provider, []string{"model-a", "model-b"})
	require.NoError(t, err)

	dir := bank.NewDirectory()
	orch := agent.New(store, dir, inv, flow.NewRouter(&staticRouterInvoker{label: routerLabel}), guard.MustNew(), 8, "dev")
	return orch, store, dir
}

// TestStolenCardCall simulates a complete inbound call:
//
//	caller reports a stolen card → agent asks for credentials →
//	caller verifies → agent confirms → caller approves the block →
//	card ends up blocked and the session carries the bound identity
func TestStolenCardCall(t *testing.T) {
	ctx := context.Background()

	provider := &scriptedProvider{responses: []*llm.Response{
		// Turn 1: no credentials yet, agent asks for them.
		{Content: "I'm sorry to hear that. To block the card I first need to verify your identity. May I have your Customer ID and PIN?"},
		// Turn 2: credentials arrive, agent calls verify_identity then confirms.
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "verify_identity", Arguments: `{"customer_id":"John123","pin":"1234"}`},
		}},
		{Content: "Thanks John, you're verified. I can see a VISA ending in 4242. Shall I block it now?"},
		// Turn 3: caller approves, agent blocks the card.
		{ToolCalls: []llm.ToolCall{
			{ID: "c2", Name: "block_card", Arguments: `{"card_id":"card_123","reason":"lost"}`},
		}},
		{Content: "Done. Your card ending in 4242 has been blocked. Anything else?"},
	}}

	orch, store, dir := newStack(t, provider, "card_atm_issues")

	start, err := orch.StartCall(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, agent.GreetingMessage, start.Greeting)
	assert.False(t, start.IsVerified)

	// Turn 1: unverified caller reports the stolen card.
	res, err := orch.Turn(ctx, start.SessionID, "my card was stolen")
	require.NoError(t, err)
	assert.False(t, res.IsVerified)
	assert.Contains(t, res.AgentResponse, "Customer ID")
	assert.Equal(t, "card_atm_issues", res.Flow)

	// Turn 2: credentials bind the session to the canonical customer.
	res, err = orch.Turn(ctx, start.SessionID, "John123, PIN 1234")
	require.NoError(t, err)
	assert.True(t, res.IsVerified)

	sess, err := store.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.VerifiedIdentity)
	assert.Equal(t, "John123", sess.CustomerID)
	assert.Equal(t, 1, sess.VerificationAttempts)

	// Turn 3: explicit approval, block goes through.
	res, err = orch.Turn(ctx, start.SessionID, "yes, block it, I lost it")
	require.NoError(t, err)
	assert.Contains(t, res.AgentResponse, "blocked")

	status, err := dir.CardStatus("card_123")
	require.NoError(t, err)
	assert.Equal(t, bank.CardBlocked, status)

	// The PIN never reaches storage.
	turns, err := store.Turns(ctx, start.SessionID)
	require.NoError(t, err)
	for _, turn := range turns {
		for _, call := range turn.ToolCalls {
			assert.NotContains(t, string(call.Args), "1234")
		}
	}

	// End of call persists the closing line and seals the session.
	closing, err := orch.EndCall(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Contains(t, closing, "Goodbye")

	_, err = orch.Turn(ctx, start.SessionID, "hello again")
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

// TestVerificationLockstep walks the three-attempt verification path end to end.
func TestVerificationLockstep(t *testing.T) {
	ctx := context.Background()

	provider := &scriptedProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "verify_identity", Arguments: `{"customer_id":"John123","pin":"0000"}`},
		}},
		{Content: "That PIN doesn't match. Could you try again?"},
		{ToolCalls: []llm.ToolCall{
			{ID: "c2", Name: "verify_identity", Arguments: `{"customer_id":"john 123","pin":"1 2 3 4"}`},
		}},
		{Content: "You're verified now, John. How can I help?"},
	}}

	orch, store, _ := newStack(t, provider, "account_servicing")
	start, err := orch.StartCall(ctx, "")
	require.NoError(t, err)

	res, err := orch.Turn(ctx, start.SessionID, "John123, 0000")
	require.NoError(t, err)
	assert.False(t, res.IsVerified)

	// Spoken credentials are normalized before matching.
	res, err = orch.Turn(ctx, start.SessionID, "john 123, one two three four")
	require.NoError(t, err)
	assert.True(t, res.IsVerified)

	sess, err := store.GetSession(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, sess.VerificationAttempts)
	assert.Equal(t, "John123", sess.CustomerID)
}

// TestHTTPCallRound drives the same scenario through the HTTP surface.
func TestHTTPCallRound(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.Response{
		{Content: "I can help with your account. May I have your Customer ID and PIN?"},
	}}

	orch, store, _ := newStack(t, provider, "account_servicing")
	transcriber := &echoTranscriber{text: "what's my balance"}
	srv := server.NewServer(orch, store, transcriber, silentSynthesizer{}, server.WithDefaultEnv("dev"))
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/call/start", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	var started struct {
		SessionID string `json:"session_id"`
		Greeting  string `json:"greeting"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	assert.Contains(t, started.Greeting, "Bank ABC")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("session_id", started.SessionID))
	fw, err := mw.CreateFormFile("audio", "turn.wav")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0x01}, 2048))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err = http.Post(ts.URL+"/call/turn", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var turn struct {
		UserTranscript string `json:"user_transcript"`
		AgentResponse  string `json:"agent_response"`
		IsVerified     bool   `json:"is_verified"`
	}
	require.NoError(t, json.Unmarshal(raw, &turn))
	assert.Equal(t, "what's my balance", turn.UserTranscript)
	assert.Contains(t, turn.AgentResponse, "Customer ID")
	assert.False(t, turn.IsVerified)

	resp, err = http.Post(ts.URL+"/call/end", "application/json",
		bytes.NewBufferString(`{"session_id":"`+started.SessionID+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "sess_1", "dev")
	require.NoError(t, err)
	assert.Equal(t, GuestCustomerID, sess.CustomerID)
	assert.False(t, sess.VerifiedIdentity)
	assert.False(t, sess.Ended)

	got, err := store.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "dev", got.EnvKey)
	assert.Equal(t, 0, got.VerificationAttempts)

	require.NoError(t, store.EndSession(ctx, "sess_1"))
	got, err = store.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.True(t, got.Ended)

	assert.ErrorIs(t, store.EndSession(ctx, "sess_1"), ErrSessionEnded)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetVerification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "sess_1", "dev")
	require.NoError(t, err)

	// A failed attempt increments the counter without binding an identity.
	require.NoError(t, store.SetVerification(ctx, "sess_1", GuestCustomerID, false, 1))
	got, err := store.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.False(t, got.VerifiedIdentity)
	assert.Equal(t, 1, got.VerificationAttempts)

	require.NoError(t, store.SetVerification(ctx, "sess_1", "John123", true, 2))
	got, err = store.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.True(t, got.VerifiedIdentity)
	assert.Equal(t, "John123", got.CustomerID)
	assert.Equal(t, 3, got.VerificationAttempts)
}

func TestSetFlow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "sess_1", "dev")
	require.NoError(t, err)

	require.NoError(t, store.SetFlow(ctx, "sess_1", "card_atm_issues"))
	got, err := store.GetSession(ctx, "sess_1")
	require.NoError(t, err)
	assert.Equal(t, "card_atm_issues", got.CurrentFlow)

	assert.ErrorIs(t, store.SetFlow(ctx, "missing", "x"), ErrSessionNotFound)
}

func TestListSessionsOrderedByUpdated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess_a", "sess_b", "sess_c"} {
		_, err := store.CreateSession(ctx, id, "dev")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, store.Touch(ctx, "sess_a"))

	sessions, err := store.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "sess_a", sessions[0].SessionID)
}

func TestTurnsOrderedAndImmutableShapes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, "sess_1", "dev")
	require.NoError(t, err)

	// Greeting turn: no transcript.
	require.NoError(t, store.AppendTurn(ctx, &Turn{
		SessionID:     "sess_1",
		AgentResponse: "Hello, welcome to Bank ABC. How can I help you today?",
	}))

	transcript := "my card was stolen"
	require.NoError(t, store.AppendTurn(ctx, &Turn{
		SessionID:      "sess_1",
		UserTranscript: &transcript,
		AgentResponse:  "I can help with that.",
		ToolCalls: []ToolCallRecord{
			{Name: "verify_identity", Args: json.RawMessage(`{"customer_id":"John123","pin":"****"}`)},
		},
	}))

	turns, err := store.Turns(ctx, "sess_1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Nil(t, turns[0].UserTranscript)
	assert.Empty(t, turns[0].ToolCalls)
	require.NotNil(t, turns[1].UserTranscript)
	assert.Equal(t, "my card was stolen", *turns[1].UserTranscript)
	require.Len(t, turns[1].ToolCalls, 1)
	assert.Equal(t, "verify_identity", turns[1].ToolCalls[0].Name)
	assert.Contains(t, string(turns[1].ToolCalls[0].Args), "****")
}

func TestEndIdleSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateSession(ctx, "sess_old", "dev")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now().UTC()
	_, err = store.CreateSession(ctx, "sess_new", "dev")
	require.NoError(t, err)

	ended, err := store.EndIdleSessions(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ended)

	got, err := store.GetSession(ctx, "sess_old")
	require.NoError(t, err)
	assert.True(t, got.Ended)
	got, err = store.GetSession(ctx, "sess_new")
	require.NoError(t, err)
	assert.False(t, got.Ended)
}

func TestEnsureEnvConfigInsertIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	defaults := &RuntimeConfig{
		EnvKey:           "dev",
		BaseSystemPrompt: "You are a bank agent.",
		ToolFlags:        map[string]bool{"block_card": true},
	}
	cfg, err := store.EnsureEnvConfig(ctx, "dev", defaults)
	require.NoError(t, err)
	assert.Equal(t, "You are a bank agent.", cfg.BaseSystemPrompt)

	// Administrative change survives a second provisioning pass.
	cfg.ToolFlags["block_card"] = false
	require.NoError(t, store.SaveConfig(ctx, cfg))

	cfg2, err := store.EnsureEnvConfig(ctx, "dev", defaults)
	require.NoError(t, err)
	assert.False(t, cfg2.ToolFlags["block_card"])
}

func TestConfigEnvironments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, env := range []string{"prod", "dev"} {
		_, err := store.EnsureEnvConfig(ctx, env, &RuntimeConfig{EnvKey: env, BaseSystemPrompt: "p"})
		require.NoError(t, err)
	}
	envs, err := store.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "prod"}, envs)

	_, err = store.GetConfig(ctx, "staging")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLockerSerializes(t *testing.T) {
	locker := NewLocker()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locker.Lock("sess_1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

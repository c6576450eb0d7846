package trigger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankabc/voicegate/internal/session"
)

func TestSweepOnce(t *testing.T) {
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.CreateSession(ctx, "call_idle", "dev")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = store.CreateSession(ctx, "call_live", "dev")
	require.NoError(t, err)

	sw := NewSweeper(store, 20*time.Millisecond, "*/5 * * * *")
	ended, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ended)

	idle, err := store.GetSession(ctx, "call_idle")
	require.NoError(t, err)
	assert.True(t, idle.Ended)
	live, err := store.GetSession(ctx, "call_live")
	require.NoError(t, err)
	assert.False(t, live.Ended)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	sw := NewSweeper(store, time.Minute, "not a schedule")
	assert.Error(t, sw.Start())
}

func TestStartAndStop(t *testing.T) {
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer store.Close()

	sw := NewSweeper(store, time.Minute, "*/5 * * * *")
	require.NoError(t, sw.Start())
	sw.Stop()
}

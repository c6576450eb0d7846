// Package trigger runs the scheduled housekeeping jobs.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/bankabc/voicegate/internal/session"
)

// Sweeper ends sessions that have been idle longer than the configured
// window. Callers who walked away without /call/end would otherwise leave
// live sessions behind forever.
type Sweeper struct {
	store    *session.Store
	idleFor  time.Duration
	schedule string
	cron     *cron.Cron
}

// NewSweeper returns a sweeper over the session store. schedule is a
// standard five-field cron expression.
func NewSweeper(store *session.Store, idleFor time.Duration, schedule string) *Sweeper {
	return &Sweeper{
		store:    store,
		idleFor:  idleFor,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers and begins the sweep job.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.SweepOnce(context.Background()); err != nil {
			log.Error().Err(err).Msg("session_sweep_failed")
		}
	})
	if err != nil {
		return fmt.Errorf("registering sweep schedule %q: %w", s.schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Dur("idle_for", s.idleFor).Msg("session_sweeper_started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// SweepOnce ends all sessions idle past the window and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.idleFor)
	ended, err := s.store.EndIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if ended > 0 {
		log.Info().Int64("sessions_ended", ended).Msg("idle_sessions_swept")
	}
	return ended, nil
}

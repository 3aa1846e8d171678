package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionSweeper periodically purges sessions whose lockout is over.
type SessionSweeper struct {
	store    SessionStore
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewSessionSweeper(store SessionStore, interval time.Duration, logger zerolog.Logger) *SessionSweeper {
	return &SessionSweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (ss *SessionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(ss.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ss.SweepOnce(ctx)
		}
	}
}

func (ss *SessionSweeper) SweepOnce(ctx context.Context) int {
	removed, err := ss.store.Sweep(ctx, ss.now())
	if err != nil {
		ss.logger.Error().Err(err).Int("removed", removed).Msg("Session sweep failed")
		return removed
	}
	if removed > 0 {
		ss.logger.Info().Int("removed", removed).Msg("Purged sessions with elapsed lockout")
	}
	return removed
}

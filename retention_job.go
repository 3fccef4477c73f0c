package main

import (
	"context"
	"time"

	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
	"github.com/rs/zerolog"
)

type retentionRecords interface {
	StaleSessions(ctx context.Context, cutoff time.Time) ([]database.SessionRecord, error)
	DeleteSessionRecord(ctx context.Context, sessionID string) error
}

// retentionJob purges the record and history of sessions that are no longer
// running and have been inactive for longer than maxAge.
type retentionJob struct {
	records  retentionRecords
	history  *history.Store
	sessions *terminal.Manager
	maxAge   time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func newRetentionJob(records retentionRecords, hist *history.Store, sessions *terminal.Manager, maxAge time.Duration, log zerolog.Logger) *retentionJob {
	return &retentionJob{
		records:  records,
		history:  hist,
		sessions: sessions,
		maxAge:   maxAge,
		log:      log,
		now:      time.Now,
	}
}

// Run performs one retention pass and returns the number of purged sessions.
func (j *retentionJob) Run(ctx context.Context) int {
	cutoff := j.now().Add(-j.maxAge)
	stale, err := j.records.StaleSessions(ctx, cutoff)
	if err != nil {
		j.log.Error().Err(err).Msg("list stale sessions")
		return 0
	}

	purged := 0
	for _, rec := range stale {
		if j.sessions.Registered(rec.SessionID) {
			continue
		}
		if err := j.history.Delete(ctx, rec.SessionID); err != nil {
			j.log.Error().Err(err).Str("session", rec.SessionID).Msg("purge history")
			continue
		}
		if err := j.records.DeleteSessionRecord(ctx, rec.SessionID); err != nil {
			j.log.Error().Err(err).Str("session", rec.SessionID).Msg("delete session record")
			continue
		}
		purged++
	}

	if purged > 0 {
		j.log.Info().Int("purged", purged).Time("cutoff", cutoff).Msg("retention pass removed stale sessions")
	}
	return purged
}

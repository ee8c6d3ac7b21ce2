package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/healthsync/healthsync/internal/metrics"
	"github.com/healthsync/healthsync/internal/store"
)

// expirySweeper flips past-dated medicines to EXPIRED and drops revocations
// of tokens that have expired anyway.
type expirySweeper struct {
	DB      *sql.DB
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *expirySweeper) Run(ctx context.Context, interval time.Duration) {
	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *expirySweeper) sweep(ctx context.Context) {
	now := s.Now()

	expired, err := store.MarkExpiredMedicines(ctx, s.DB, now)
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
	} else if expired > 0 {
		s.Metrics.AddExpired(expired)
		slog.Info("medicines expired", "count", expired)
	}

	purged, err := store.PurgeRevokedTokens(ctx, s.DB, now)
	if err != nil {
		slog.Error("purging revoked tokens failed", "error", err)
	} else if purged > 0 {
		slog.Info("revoked tokens purged", "count", purged)
	}
}

package service

import (
	"context"
	"time"

	"github.com/sableauth/sable/internal/auth/store"
	"github.com/sableauth/sable/pkg/clockx"
	"github.com/sableauth/sable/pkg/slogx"
)

// Sweep timing. Expired rows are held for a grace window before deletion so
// lookups can still distinguish "expired" from "never existed" while the
// rows drain out.
const (
	DefaultSweepInterval = time.Hour
	DefaultSweepGrace    = time.Hour
)

// Housekeeper periodically deletes expired refresh tokens, 2FA challenges
// and OAuth2 state rows.
type Housekeeper struct {
	store    store.Store
	clock    clockx.Clock
	interval time.Duration
	grace    time.Duration
}

func NewHousekeeper(st store.Store, clock clockx.Clock, interval, grace time.Duration) *Housekeeper {
	if clock == nil {
		clock = clockx.System{}
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if grace <= 0 {
		grace = DefaultSweepGrace
	}
	return &Housekeeper{store: st, clock: clock, interval: interval, grace: grace}
}

// Run sweeps on a ticker until ctx is cancelled. Intended to run in its own
// goroutine.
func (h *Housekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Sweep(ctx); err != nil {
				slogx.FromContext(ctx).Error("housekeeping sweep failed", "err", err)
			}
		}
	}
}

// Sweep runs one deletion pass. Each table sweeps independently so one
// failure doesn't block the others.
func (h *Housekeeper) Sweep(ctx context.Context) error {
	cutoff := h.clock.Now().Add(-h.grace)
	log := slogx.FromContext(ctx)

	var firstErr error
	if err := h.store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, cutoff); err != nil {
		log.Error("sweep refresh tokens failed", "err", err)
		firstErr = err
	}
	if err := h.store.TwoFactorChallenges().DeleteExpiredChallenges(ctx, cutoff); err != nil {
		log.Error("sweep challenges failed", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := h.store.ExternalAuthStates().DeleteExpiredStates(ctx, cutoff); err != nil {
		log.Error("sweep auth states failed", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

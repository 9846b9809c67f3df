package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// expiryStore lists users whose status_expiry has elapsed.
type expiryStore interface {
	ListExpiredStatuses(ctx context.Context, now time.Time) ([]int64, error)
}

// Sweeper periodically resets expired statuses to AVAILABLE through the
// arbiter. It is the in-process stand-in for the external scheduler that
// owns status_expiry: it only submits automatic change requests, so the
// guard rules still apply (a manually held DND survives its own expiry
// until the user releases it).
type Sweeper struct {
	store    expiryStore
	arbiter  *Arbiter
	interval time.Duration
	log      *zerolog.Logger
}

// NewSweeper creates a sweeper that scans every interval.
func NewSweeper(st expiryStore, arbiter *Arbiter, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		store:    st,
		arbiter:  arbiter,
		interval: interval,
		log:      logger,
	}
}

// Run blocks until ctx is canceled, sweeping at the configured interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: every user with an elapsed expiry gets an
// automatic reset to AVAILABLE.
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.store.ListExpiredStatuses(ctx, time.Now().UTC())
	if err != nil {
		s.log.Warn().Err(err).Msg("list expired statuses")
		return
	}

	for _, id := range ids {
		applied, err := s.arbiter.RequestStatusChange(ctx, id, StatusAvailable, false)
		if err != nil {
			s.log.Warn().Err(err).Int64("user_id", id).Msg("expiry reset failed")
			continue
		}
		if !applied {
			s.log.Debug().Int64("user_id", id).Msg("expiry reset rejected")
		}
	}
}

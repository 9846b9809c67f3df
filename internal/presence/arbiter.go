package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/proto"
	"github.com/crewdeck/crewdeck-server/internal/pubsub"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

// userStatusStore is the slice of persistence the arbiter needs.
type userStatusStore interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	UpdateUserStatus(ctx context.Context, id int64, status string, isManual bool, message *string, expiry *time.Time) error
}

// Broadcaster fans a message out to every live connection.
type Broadcaster interface {
	BroadcastAll(ctx context.Context, msg any)
}

// Change is a requested status transition.
type Change struct {
	UserID int64
	Status Status
	Manual bool

	// Message and Expiry annotate busy statuses; both are dropped when the
	// target status clears detail (AVAILABLE, OFFLINE).
	Message *string
	Expiry  *time.Time
}

const lockStripes = 64

// Arbiter is the single authority on status transitions. It loads the
// persisted status, applies the guard rules, persists the accepted result,
// and only then broadcasts it. Requests for the same user are serialized
// through striped locks so concurrent read-modify-write cycles cannot
// interleave; requests for different users do not contend (beyond stripe
// collisions).
type Arbiter struct {
	store  userStatusStore
	casts  Broadcaster
	mirror pubsub.Publisher
	log    *zerolog.Logger

	locks [lockStripes]sync.Mutex
}

// NewArbiter creates a status arbiter.
func NewArbiter(st userStatusStore, casts Broadcaster, mirror pubsub.Publisher, logger *zerolog.Logger) *Arbiter {
	return &Arbiter{
		store:  st,
		casts:  casts,
		mirror: mirror,
		log:    logger,
	}
}

// RequestStatusChange requests a transition for userID. It reports whether
// the change was applied. Guard rejections and unknown users both report
// false with a nil error; only persistence failures return an error, and in
// that case nothing was broadcast.
func (a *Arbiter) RequestStatusChange(ctx context.Context, userID int64, status Status, manual bool) (bool, error) {
	return a.Request(ctx, Change{UserID: userID, Status: status, Manual: manual})
}

// Request is RequestStatusChange with an optional status message and expiry.
func (a *Arbiter) Request(ctx context.Context, ch Change) (bool, error) {
	if !ch.Status.Valid() {
		a.log.Warn().Int64("user_id", ch.UserID).Str("status", string(ch.Status)).Msg("unknown status requested")
		return false, nil
	}

	applied, err := a.apply(ctx, ch)
	if err != nil || !applied {
		return applied, err
	}

	// The write is durable; now tell the world. Broadcast failures are
	// per-connection concerns owned by the registry.
	a.casts.BroadcastAll(ctx, proto.StatusUpdate{
		Type:    proto.TypeUserStatusUpdate,
		UserID:  ch.UserID,
		Status:  string(ch.Status),
		Message: ch.Message,
	})

	a.publishMirror(ch)

	return true, nil
}

// apply runs the guarded read-modify-write under the user's stripe lock.
func (a *Arbiter) apply(ctx context.Context, ch Change) (bool, error) {
	lock := &a.locks[uint64(ch.UserID)%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	user, err := a.store.GetUserByID(ctx, ch.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.log.Debug().Int64("user_id", ch.UserID).Str("reason", "not_found").Msg("status change not applied")
			return false, nil
		}
		return false, fmt.Errorf("load user %d: %w", ch.UserID, err)
	}

	current := Status(user.CurrentStatus)

	// Guard A: an offline user cannot be placed into a busy status without
	// first coming online. This catches stale timers firing after logout.
	if current == StatusOffline && ch.Status != StatusAvailable && ch.Status != StatusOffline {
		a.log.Debug().
			Int64("user_id", ch.UserID).
			Str("requested", string(ch.Status)).
			Str("reason", "guard_offline").
			Msg("status change not applied")
		return false, nil
	}

	// Guard B: automatic updates never override an explicitly chosen DND.
	if user.IsManuallySet && current == StatusDND && !ch.Manual {
		a.log.Debug().
			Int64("user_id", ch.UserID).
			Str("requested", string(ch.Status)).
			Str("reason", "guard_dnd").
			Msg("status change not applied")
		return false, nil
	}

	message, expiry := ch.Message, ch.Expiry
	if ch.Status.ClearsDetail() {
		message, expiry = nil, nil
	}

	if err := a.store.UpdateUserStatus(ctx, ch.UserID, string(ch.Status), ch.Manual, message, expiry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The user vanished between read and write.
			a.log.Debug().Int64("user_id", ch.UserID).Str("reason", "not_found").Msg("status change not applied")
			return false, nil
		}
		return false, fmt.Errorf("persist status for user %d: %w", ch.UserID, err)
	}

	a.log.Info().
		Int64("user_id", ch.UserID).
		Str("from", string(current)).
		Str("to", string(ch.Status)).
		Bool("manual", ch.Manual).
		Msg("status changed")

	return true, nil
}

// publishMirror notifies the secondary pub/sub channel, fire-and-forget.
func (a *Arbiter) publishMirror(ch Change) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := a.mirror.PublishStatus(ctx, pubsub.StatusUpdate{
			Type:    proto.TypeUserStatusUpdate,
			UserID:  ch.UserID,
			Status:  string(ch.Status),
			Message: ch.Message,
		})
		if err != nil {
			a.log.Warn().Err(err).Int64("user_id", ch.UserID).Msg("mirror publish failed")
		}
	}()
}

package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck-server/internal/proto"
	"github.com/crewdeck/crewdeck-server/internal/pubsub"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

// recordingBroadcaster captures BroadcastAll payloads.
type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []any
}

func (b *recordingBroadcaster) BroadcastAll(_ context.Context, msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBroadcaster) messages() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.msgs))
	copy(out, b.msgs)
	return out
}

func newTestArbiter(st *fakeStore) (*Arbiter, *recordingBroadcaster) {
	casts := &recordingBroadcaster{}
	return NewArbiter(st, casts, pubsub.Noop{}, testLogger()), casts
}

func TestOfflineGuard(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		target  Status
		applied bool
	}{
		{StatusAvailable, true},
		{StatusOffline, true},
		{StatusDND, false},
		{StatusInMeeting, false},
		{StatusBRB, false},
		{StatusAway, false},
	}

	for _, tt := range tests {
		for _, manual := range []bool{true, false} {
			st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusOffline)})
			arb, casts := newTestArbiter(st)

			applied, err := arb.RequestStatusChange(ctx, 1, tt.target, manual)
			if err != nil {
				t.Fatalf("%s manual=%v: unexpected error: %v", tt.target, manual, err)
			}
			if applied != tt.applied {
				t.Fatalf("%s manual=%v: applied=%v, want %v", tt.target, manual, applied, tt.applied)
			}
			if !tt.applied {
				if got := st.user(1).CurrentStatus; got != string(StatusOffline) {
					t.Fatalf("%s: status changed to %s despite rejection", tt.target, got)
				}
				if len(casts.messages()) != 0 {
					t.Fatalf("%s: rejected change must not broadcast", tt.target)
				}
			}
		}
	}
}

func TestDNDGuard(t *testing.T) {
	ctx := context.Background()
	targets := []Status{StatusAvailable, StatusInMeeting, StatusBRB, StatusAway, StatusOffline, StatusDND}

	for _, target := range targets {
		// Automatic requests never override a manually chosen DND.
		st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusDND), IsManuallySet: true})
		arb, casts := newTestArbiter(st)

		applied, err := arb.RequestStatusChange(ctx, 1, target, false)
		if err != nil {
			t.Fatalf("auto %s: unexpected error: %v", target, err)
		}
		if applied {
			t.Fatalf("auto %s: expected rejection", target)
		}
		if len(casts.messages()) != 0 {
			t.Fatalf("auto %s: rejected change must not broadcast", target)
		}

		// The user may always leave DND manually.
		applied, err = arb.RequestStatusChange(ctx, 1, target, true)
		if err != nil {
			t.Fatalf("manual %s: unexpected error: %v", target, err)
		}
		if !applied {
			t.Fatalf("manual %s: expected acceptance", target)
		}
	}
}

func TestAutomaticDNDIsNotProtected(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusDND), IsManuallySet: false})
	arb, _ := newTestArbiter(st)

	applied, err := arb.RequestStatusChange(ctx, 1, StatusAvailable, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatalf("system-set DND must not block automatic updates")
	}
}

func TestClearingInvariant(t *testing.T) {
	ctx := context.Background()
	note := "in the war room"
	expiry := time.Now().Add(time.Hour)

	for _, target := range []Status{StatusAvailable, StatusOffline} {
		st := newFakeStore(&store.User{
			ID:            1,
			CurrentStatus: string(StatusInMeeting),
			StatusMessage: &note,
			StatusExpiry:  &expiry,
		})
		arb, _ := newTestArbiter(st)

		// Even a request carrying detail must clear it for these targets.
		applied, err := arb.Request(ctx, Change{UserID: 1, Status: target, Manual: true, Message: &note, Expiry: &expiry})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", target, err)
		}
		if !applied {
			t.Fatalf("%s: expected acceptance", target)
		}

		u := st.user(1)
		if u.StatusMessage != nil || u.StatusExpiry != nil {
			t.Fatalf("%s: expected message and expiry cleared, got %+v", target, u)
		}
	}
}

func TestBusyStatusKeepsDetail(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusAvailable)})
	arb, _ := newTestArbiter(st)

	note := "heads down until 3pm"
	expiry := time.Now().Add(2 * time.Hour)
	applied, err := arb.Request(ctx, Change{UserID: 1, Status: StatusDND, Manual: true, Message: &note, Expiry: &expiry})
	if err != nil || !applied {
		t.Fatalf("expected acceptance, got applied=%v err=%v", applied, err)
	}

	u := st.user(1)
	if u.StatusMessage == nil || *u.StatusMessage != note {
		t.Fatalf("expected status message to persist, got %+v", u.StatusMessage)
	}
	if u.StatusExpiry == nil || !u.StatusExpiry.Equal(expiry) {
		t.Fatalf("expected status expiry to persist, got %+v", u.StatusExpiry)
	}
}

func TestUnknownUserIsNotApplied(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	arb, casts := newTestArbiter(st)

	applied, err := arb.RequestStatusChange(ctx, 42, StatusAvailable, true)
	if err != nil {
		t.Fatalf("unknown user must not surface an error, got %v", err)
	}
	if applied {
		t.Fatalf("unknown user must not be applied")
	}
	if len(casts.messages()) != 0 {
		t.Fatalf("unknown user must not broadcast")
	}
}

func TestInvalidStatusIsNotApplied(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusAvailable)})
	arb, casts := newTestArbiter(st)

	applied, err := arb.RequestStatusChange(ctx, 1, Status("BUSY"), true)
	if err != nil || applied {
		t.Fatalf("expected silent rejection, got applied=%v err=%v", applied, err)
	}
	if len(casts.messages()) != 0 {
		t.Fatalf("invalid status must not broadcast")
	}
}

func TestPersistenceFailureGatesBroadcast(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 1, CurrentStatus: string(StatusAvailable)})
	st.updateErr = errors.New("database is locked")
	arb, casts := newTestArbiter(st)

	applied, err := arb.RequestStatusChange(ctx, 1, StatusDND, true)
	if err == nil {
		t.Fatalf("expected persistence failure to surface")
	}
	if applied {
		t.Fatalf("failed persistence must not report applied")
	}
	if len(casts.messages()) != 0 {
		t.Fatalf("clients must never see a status update that failed to persist")
	}
}

func TestAcceptedChangeBroadcastsAfterPersist(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 5, CurrentStatus: string(StatusAvailable)})
	arb, casts := newTestArbiter(st)

	applied, err := arb.RequestStatusChange(ctx, 5, StatusInMeeting, false)
	if err != nil || !applied {
		t.Fatalf("expected acceptance, got applied=%v err=%v", applied, err)
	}

	msgs := casts.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(msgs))
	}
	upd, ok := msgs[0].(proto.StatusUpdate)
	if !ok || upd.Type != proto.TypeUserStatusUpdate || upd.UserID != 5 || upd.Status != string(StatusInMeeting) {
		t.Fatalf("unexpected broadcast payload: %+v", msgs[0])
	}
}

func TestMirrorReceivesAcceptedChanges(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 5, CurrentStatus: string(StatusAvailable)})
	mirror := newRecordingMirror()
	arb := NewArbiter(st, &recordingBroadcaster{}, mirror, testLogger())

	if _, err := arb.RequestStatusChange(ctx, 5, StatusAway, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case upd := <-mirror.updates:
		if upd.UserID != 5 || upd.Status != string(StatusAway) {
			t.Fatalf("unexpected mirror payload: %+v", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("mirror publication never arrived")
	}
}

func TestMirrorFailureDoesNotAffectOutcome(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 5, CurrentStatus: string(StatusAvailable)})
	mirror := newRecordingMirror()
	mirror.err = errors.New("redis down")
	casts := &recordingBroadcaster{}
	arb := NewArbiter(st, casts, mirror, testLogger())

	applied, err := arb.RequestStatusChange(ctx, 5, StatusBRB, true)
	if err != nil || !applied {
		t.Fatalf("mirror failure must not affect the change, got applied=%v err=%v", applied, err)
	}
	if len(casts.messages()) != 1 {
		t.Fatalf("primary broadcast must still happen")
	}
}

// TestPresenceScenario walks the full life of a session: connect, manual
// DND, blocked automatic reset, manual release, disconnect.
func TestPresenceScenario(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore(&store.User{ID: 10, CurrentStatus: string(StatusOffline)})
	reg := NewRegistry(st, testLogger())
	arb := NewArbiter(st, reg, pubsub.Noop{}, testLogger())

	conn := &fakeConn{}
	reg.Connect(ctx, conn, 5, 10)
	if !containsUser(reg.OnlineUsers(), 10) {
		t.Fatalf("expected user online after connect")
	}

	// Coming online from OFFLINE.
	if applied, err := arb.RequestStatusChange(ctx, 10, StatusAvailable, false); err != nil || !applied {
		t.Fatalf("expected OFFLINE->AVAILABLE to apply, got applied=%v err=%v", applied, err)
	}

	if applied, err := arb.RequestStatusChange(ctx, 10, StatusDND, true); err != nil || !applied {
		t.Fatalf("expected manual DND to apply, got applied=%v err=%v", applied, err)
	}
	u := st.user(10)
	if u.CurrentStatus != string(StatusDND) || !u.IsManuallySet {
		t.Fatalf("unexpected state after manual DND: %+v", u)
	}

	if applied, err := arb.RequestStatusChange(ctx, 10, StatusAvailable, false); err != nil || applied {
		t.Fatalf("expected automatic reset to be blocked, got applied=%v err=%v", applied, err)
	}
	if got := st.user(10).CurrentStatus; got != string(StatusDND) {
		t.Fatalf("status should remain DND, got %s", got)
	}

	if applied, err := arb.RequestStatusChange(ctx, 10, StatusAvailable, true); err != nil || !applied {
		t.Fatalf("expected manual release to apply, got applied=%v err=%v", applied, err)
	}
	u = st.user(10)
	if u.CurrentStatus != string(StatusAvailable) || u.StatusMessage != nil {
		t.Fatalf("unexpected state after release: %+v", u)
	}

	reg.Disconnect(ctx, conn, 5, 10)
	if containsUser(reg.OnlineUsers(), 10) {
		t.Fatalf("expected user offline after disconnect")
	}
	if id, ok := st.awaitLastSeen(2 * time.Second); !ok || id != 10 {
		t.Fatalf("expected last_seen update for user 10")
	}
}

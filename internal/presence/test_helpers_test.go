package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/pubsub"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// fakeConn records everything sent to it; fail makes every send error.
type fakeConn struct {
	mu   sync.Mutex
	msgs []any
	fail bool
}

func (c *fakeConn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection reset")
	}
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// fakeStore is an in-memory user store for presence tests.
type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*store.User
	lastSeen chan int64

	getErr    error
	updateErr error
}

func newFakeStore(users ...*store.User) *fakeStore {
	f := &fakeStore{
		users:    make(map[int64]*store.User),
		lastSeen: make(chan int64, 16),
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UpdateUserStatus(_ context.Context, id int64, status string, isManual bool, message *string, expiry *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.CurrentStatus = status
	u.IsManuallySet = isManual
	u.StatusMessage = message
	u.StatusExpiry = expiry
	return nil
}

func (f *fakeStore) SetLastSeen(_ context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	u, ok := f.users[id]
	if ok {
		t := at
		u.LastSeen = &t
	}
	f.mu.Unlock()

	f.lastSeen <- id
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (f *fakeStore) ListExpiredStatuses(_ context.Context, now time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int64
	for id, u := range f.users {
		if u.StatusExpiry != nil && !u.StatusExpiry.After(now) && u.CurrentStatus != string(StatusOffline) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) user(id int64) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

// awaitLastSeen waits for one SetLastSeen call or times out.
func (f *fakeStore) awaitLastSeen(timeout time.Duration) (int64, bool) {
	select {
	case id := <-f.lastSeen:
		return id, true
	case <-time.After(timeout):
		return 0, false
	}
}

// recordingMirror captures mirror publications on a channel.
type recordingMirror struct {
	updates chan pubsub.StatusUpdate
	err     error
}

func newRecordingMirror() *recordingMirror {
	return &recordingMirror{updates: make(chan pubsub.StatusUpdate, 16)}
}

func (m *recordingMirror) PublishStatus(_ context.Context, upd pubsub.StatusUpdate) error {
	if m.err != nil {
		return m.err
	}
	m.updates <- upd
	return nil
}

func (m *recordingMirror) Close() error { return nil }

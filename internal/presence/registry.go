package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/proto"
)

// Conn is a realtime connection the registry can deliver messages to.
// Send failures mean the peer is gone; the registry never retries.
type Conn interface {
	Send(ctx context.Context, v any) error
}

// LastSeenRecorder persists the moment a user's last connection closed.
type LastSeenRecorder interface {
	SetLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// Registry tracks live connections per room and a reference count of
// connections per user. A user is online iff their count is positive.
//
// Registry state is owned by one mutex; broadcasts iterate over a snapshot
// taken under the lock and send outside it, so a slow or dead peer cannot
// block bookkeeping or delivery to other peers.
type Registry struct {
	mu     sync.Mutex
	rooms  map[int64]map[Conn]int64 // roomID -> conn -> userID
	counts map[int64]int            // userID -> live connection count

	recorder    LastSeenRecorder
	log         *zerolog.Logger
	sendTimeout time.Duration
}

// NewRegistry creates an empty connection registry.
func NewRegistry(recorder LastSeenRecorder, logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[int64]map[Conn]int64),
		counts:      make(map[int64]int),
		recorder:    recorder,
		log:         logger,
		sendTimeout: 5 * time.Second,
	}
}

// Connect registers conn under roomID and increments the user's connection
// count, then announces the user as online to the room.
func (r *Registry) Connect(ctx context.Context, conn Conn, roomID, userID int64) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[Conn]int64)
		r.rooms[roomID] = room
	}
	room[conn] = userID
	r.counts[userID]++
	r.mu.Unlock()

	r.log.Debug().Int64("user_id", userID).Int64("room_id", roomID).Msg("connection registered")

	r.Broadcast(ctx, proto.UserStatus{
		Type:   proto.TypeUserStatus,
		UserID: userID,
		Status: proto.ConnStateOnline,
	}, roomID)
}

// Disconnect removes conn from roomID's set and decrements the user's
// connection count. Calling it for an unknown connection is a no-op, so
// double disconnects after partial failures are safe. When the user's last
// connection closes, last_seen is recorded asynchronously and the room is
// told the user went offline.
func (r *Registry) Disconnect(ctx context.Context, conn Conn, roomID, userID int64) {
	r.mu.Lock()
	room, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := room[conn]; !ok {
		r.mu.Unlock()
		return
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}

	last := false
	if r.counts[userID] > 0 {
		r.counts[userID]--
		if r.counts[userID] == 0 {
			delete(r.counts, userID)
			last = true
		}
	}
	r.mu.Unlock()

	r.log.Debug().Int64("user_id", userID).Int64("room_id", roomID).Bool("last", last).Msg("connection removed")

	if !last {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		defer cancel()
		if err := r.recorder.SetLastSeen(ctx, userID, time.Now().UTC()); err != nil {
			r.log.Warn().Err(err).Int64("user_id", userID).Msg("record last seen")
		}
	}()

	r.Broadcast(ctx, proto.UserStatus{
		Type:   proto.TypeUserStatus,
		UserID: userID,
		Status: proto.ConnStateOffline,
	}, roomID)
}

// Broadcast delivers msg to every connection in roomID. Delivery is
// best-effort: a failed send is dropped and the loop continues.
func (r *Registry) Broadcast(ctx context.Context, msg any, roomID int64) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.rooms[roomID]))
	for conn := range r.rooms[roomID] {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	r.deliver(ctx, msg, conns)
}

// BroadcastAll delivers msg to every connection in every room.
func (r *Registry) BroadcastAll(ctx context.Context, msg any) {
	r.mu.Lock()
	var conns []Conn
	for _, room := range r.rooms {
		for conn := range room {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()

	r.deliver(ctx, msg, conns)
}

func (r *Registry) deliver(ctx context.Context, msg any, conns []Conn) {
	for _, conn := range conns {
		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		if err := conn.Send(sendCtx, msg); err != nil {
			// Dead or slow peer; its own read loop will tear it down.
			r.log.Debug().Err(err).Msg("broadcast send failed")
		}
		cancel()
	}
}

// OnlineUsers returns the IDs of users with at least one live connection.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]int64, 0, len(r.counts))
	for userID := range r.counts {
		users = append(users, userID)
	}
	return users
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[userID]
}

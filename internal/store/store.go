package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered account, including its presence projection.
type User struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string

	CurrentStatus string
	IsManuallySet bool
	StatusMessage *string
	StatusExpiry  *time.Time
	LastSeen      *time.Time

	CreatedAt time.Time
}

// Roles a user can hold.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleStaff   = "STAFF"
)

// Room represents a chat room.
type Room struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	RoomID    int64
	UserID    int64
	Body      string
	CreatedAt time.Time
}

// UserStore provides user persistence, including presence fields.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash, firstName, lastName string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateUserStatus writes the presence projection in a single statement.
	// message and expiry replace the stored values; callers pass nil to clear.
	UpdateUserStatus(ctx context.Context, id int64, status string, isManual bool, message *string, expiry *time.Time) error

	// SetLastSeen records when a user's last connection closed.
	SetLastSeen(ctx context.Context, id int64, at time.Time) error

	// ListExpiredStatuses returns IDs of users whose status_expiry has elapsed.
	// Users already OFFLINE are never returned.
	ListExpiredStatuses(ctx context.Context, now time.Time) ([]int64, error)
}

// RoomStore provides chat room persistence.
type RoomStore interface {
	CreateRoom(ctx context.Context, name string, ownerID int64) (*Room, error)
	GetRoomByID(ctx context.Context, id int64) (*Room, error)
	ListRooms(ctx context.Context) ([]*Room, error)
}

// MessageStore provides chat message persistence.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, roomID int64, limit int, beforeID *int64) ([]*Message, error)
}

// Store aggregates all persistence interfaces.
type Store interface {
	UserStore
	RoomStore
	MessageStore

	Close() error
}

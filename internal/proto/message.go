package proto

// Message type identifiers on the wire.
const (
	// TypeUserStatus announces a user's connection state (online/offline) to a room.
	TypeUserStatus = "USER_STATUS"
	// TypeUserStatusUpdate fans out an accepted status transition to every connection.
	TypeUserStatusUpdate = "USER_STATUS_UPDATE"
	// TypeChatMessage carries a chat message, both inbound and outbound.
	TypeChatMessage = "message"
)

// Connection states carried by USER_STATUS events.
const (
	ConnStateOnline  = "online"
	ConnStateOffline = "offline"
)

// UserStatus is broadcast to a room when one of its users connects or disconnects.
type UserStatus struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// StatusUpdate is broadcast to all connections after the arbiter persists a
// status transition.
type StatusUpdate struct {
	Type    string  `json:"type"`
	UserID  int64   `json:"user_id"`
	Status  string  `json:"status"`
	Message *string `json:"message,omitempty"`
}

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ChatMessage is broadcast to a room after a chat message is persisted.
type ChatMessage struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	UserID    int64  `json:"user_id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Error describes a protocol-level error frame sent to a client.
type Error struct {
	Type string `json:"type"`
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/auth"
	"github.com/crewdeck/crewdeck-server/internal/presence"
	"github.com/crewdeck/crewdeck-server/internal/proto"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

// WSHandler upgrades HTTP connections and bridges them into the presence
// registry for the lifetime of the socket.
type WSHandler struct {
	registry    *presence.Registry
	arbiter     *presence.Arbiter
	authService *auth.Service
	store       store.Store
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *presence.Registry, arbiter *presence.Arbiter, authService *auth.Service, st store.Store, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry:    registry,
		arbiter:     arbiter,
		authService: authService,
		store:       st,
		log:         logger,
	}
}

// wsConn adapts a websocket connection to presence.Conn.
type wsConn struct {
	id   string
	conn *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, v any) error {
	return wsjson.Write(ctx, w.conn, v)
}

// Handle serves GET /ws/:room_id. The token comes from the `token` query
// parameter or a Bearer Authorization header.
func (h *WSHandler) Handle(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("room_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	claims, err := h.authService.ValidateToken(wsToken(c))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws auth failed")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}

	if _, err := h.store.GetRoomByID(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
			return
		}
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("failed to load room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	wc := &wsConn{id: uuid.NewString(), conn: conn}
	ctx := c.Request.Context()

	h.registry.Connect(ctx, wc, roomID, claims.UserID)
	// Registry state for this socket must be torn down exactly once, no
	// matter which path closed it; Disconnect tolerates repeats anyway.
	defer h.registry.Disconnect(context.Background(), wc, roomID, claims.UserID)

	h.markOnline(ctx, claims.UserID)

	err = h.readLoop(ctx, wc, roomID, claims)

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			status = websocket.StatusInternalError
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", wc.id).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// markOnline lifts a persisted OFFLINE status to AVAILABLE when the user
// connects, keeping the stored status consistent with the registry. Any
// other status is left alone.
func (h *WSHandler) markOnline(ctx context.Context, userID int64) {
	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("load user on connect")
		return
	}
	if presence.Status(user.CurrentStatus) != presence.StatusOffline {
		return
	}
	if _, err := h.arbiter.RequestStatusChange(ctx, userID, presence.StatusAvailable, false); err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("mark online")
	}
}

func (h *WSHandler) readLoop(ctx context.Context, wc *wsConn, roomID int64, claims *auth.Claims) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, wc.conn, &inbound); err != nil {
			return err
		}

		switch inbound.Type {
		case proto.TypeChatMessage:
			if err := h.handleChatMessage(ctx, wc, roomID, claims, inbound.Text); err != nil {
				return err
			}
		default:
			writeErr := wc.Send(ctx, proto.Error{
				Type: "error",
				Code: "bad_request",
				Msg:  "unknown message type",
			})
			if writeErr != nil {
				return writeErr
			}
		}
	}
}

// handleChatMessage persists a chat message and broadcasts it to the room.
// The broadcast only happens after the write succeeds.
func (h *WSHandler) handleChatMessage(ctx context.Context, wc *wsConn, roomID int64, claims *auth.Claims, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return wc.Send(ctx, proto.Error{Type: "error", Code: "bad_request", Msg: "empty message"})
	}

	msg := &store.Message{
		RoomID: roomID,
		UserID: claims.UserID,
		Body:   text,
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.log.Error().Err(err).Int64("room_id", roomID).Msg("save message")
		return wc.Send(ctx, proto.Error{Type: "error", Code: "internal", Msg: "message not saved"})
	}

	h.registry.Broadcast(ctx, proto.ChatMessage{
		Type:      proto.TypeChatMessage,
		ID:        msg.ID,
		RoomID:    roomID,
		UserID:    claims.UserID,
		Sender:    claims.Email,
		Text:      text,
		Timestamp: msg.CreatedAt.Unix(),
	}, roomID)

	return nil
}

func wsToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

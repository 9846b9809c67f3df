package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/crewdeck/crewdeck-server/internal/presence"
	"github.com/crewdeck/crewdeck-server/internal/store"
)

// StatusRequester submits status change requests to the arbiter.
type StatusRequester interface {
	Request(ctx context.Context, ch presence.Change) (bool, error)
}

// OnlineTracker reports which users currently hold live connections.
type OnlineTracker interface {
	OnlineUsers() []int64
}

// StatusHandlers provides HTTP handlers for presence endpoints.
type StatusHandlers struct {
	arbiter  StatusRequester
	registry OnlineTracker
	users    store.UserStore
	log      *zerolog.Logger
}

// NewStatusHandlers creates a new status handlers instance.
func NewStatusHandlers(arbiter StatusRequester, registry OnlineTracker, users store.UserStore, logger *zerolog.Logger) *StatusHandlers {
	return &StatusHandlers{
		arbiter:  arbiter,
		registry: registry,
		users:    users,
		log:      logger,
	}
}

// UpdateStatusRequest represents the manual status change request body.
type UpdateStatusRequest struct {
	Status           string  `json:"status" binding:"required"`
	Message          *string `json:"message" binding:"omitempty"`
	ExpiresInSeconds int     `json:"expires_in_seconds" binding:"omitempty,min=0,max=86400"`
}

// UpdateStatusResponse reports whether the change was applied.
type UpdateStatusResponse struct {
	Applied bool   `json:"applied"`
	Status  string `json:"status"`
}

// UserStatusResponse is the presence projection of one user.
type UserStatusResponse struct {
	UserID        int64      `json:"user_id"`
	Status        string     `json:"status"`
	IsManuallySet bool       `json:"is_manually_set"`
	StatusMessage *string    `json:"status_message,omitempty"`
	StatusExpiry  *time.Time `json:"status_expiry,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

// OnlineUsersResponse lists users with live connections.
type OnlineUsersResponse struct {
	UserIDs []int64 `json:"user_ids"`
}

// UpdateStatus handles a manual status change for the authenticated user.
// PUT /api/users/status
func (h *StatusHandlers) UpdateStatus(c *gin.Context) {
	userID, ok := authedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid status request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	status, ok := presence.ParseStatus(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
		return
	}

	change := presence.Change{
		UserID:  userID,
		Status:  status,
		Manual:  true,
		Message: req.Message,
	}
	if req.ExpiresInSeconds > 0 {
		expiry := time.Now().UTC().Add(time.Duration(req.ExpiresInSeconds) * time.Second)
		change.Expiry = &expiry
	}

	applied, err := h.arbiter.Request(c.Request.Context(), change)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("status change failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UpdateStatusResponse{Applied: applied, Status: string(status)})
}

// OnlineUsers lists the users currently holding at least one connection.
// GET /api/users/online
func (h *StatusHandlers) OnlineUsers(c *gin.Context) {
	ids := h.registry.OnlineUsers()
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, OnlineUsersResponse{UserIDs: ids})
}

// GetUserStatus returns the presence projection of one user.
// GET /api/users/:id/status
func (h *StatusHandlers) GetUserStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.users.GetUserByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", id).Msg("failed to load user status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserStatusResponse{
		UserID:        user.ID,
		Status:        user.CurrentStatus,
		IsManuallySet: user.IsManuallySet,
		StatusMessage: user.StatusMessage,
		StatusExpiry:  user.StatusExpiry,
		LastSeen:      user.LastSeen,
	})
}

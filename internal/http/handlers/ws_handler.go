package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/http/middleware"
	"zerowaste/internal/types"
)

// Upgrader attaches a websocket connection to the caller's notification stream.
type Upgrader interface {
	Serve(w http.ResponseWriter, r *http.Request, userID types.ID) error
}

type NotificationHandler struct {
	hub Upgrader
}

func NewNotificationHandler(hub Upgrader) *NotificationHandler {
	return &NotificationHandler{hub: hub}
}

func (h *NotificationHandler) Stream(c *gin.Context) {
	if err := h.hub.Serve(c.Writer, c.Request, types.ID(middleware.CallerUID(c))); err != nil {
		// The upgrader has already replied to the client.
		_ = c.Error(err)
	}
}

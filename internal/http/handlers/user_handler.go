// README: Caller profile handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/http/middleware"
	"zerowaste/internal/modules/user"
	"zerowaste/internal/types"
)

type UserService interface {
	Get(ctx context.Context, id types.ID) (*user.User, error)
	Upsert(ctx context.Context, cmd user.ProfileCommand) (*user.User, error)
}

type UserHandler struct {
	users UserService
}

func NewUserHandler(svc UserService) *UserHandler {
	return &UserHandler{users: svc}
}

type profileReq struct {
	Name          string     `json:"name" binding:"max=120"`
	Role          types.Role `json:"role" binding:"required"`
	Location      *pointJSON `json:"location"`
	Address       string     `json:"address" binding:"max=500"`
	NotifyAddress string     `json:"notify_address" binding:"max=4096"`
}

func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, userJSON(u))
}

// UpdateMe saves the caller's profile. Only callers whose token already
// carries the admin role may keep it.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req profileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Role == types.RoleAdmin && types.Role(middleware.CallerRole(c)) != types.RoleAdmin {
		writeError(c, http.StatusForbidden, "admin role cannot be self-assigned")
		return
	}
	u, err := h.users.Upsert(c.Request.Context(), user.ProfileCommand{
		ID:            types.ID(middleware.CallerUID(c)),
		Name:          req.Name,
		Role:          req.Role,
		Position:      toPoint(req.Location),
		Address:       req.Address,
		NotifyAddress: req.NotifyAddress,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, userJSON(u))
}

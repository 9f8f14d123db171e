// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"zerowaste/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the UUIDs issued for donations, requests and categories.
func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

// pathID reads the :id parameter, writing 400 when it is malformed.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

func queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrBadRequest), errors.Is(err, types.ErrInvalidCoordinate):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(c, http.StatusNotFound, "not found")
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrConcurrentModification),
		errors.Is(err, types.ErrActiveRequest),
		errors.Is(err, types.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrDependencyFailure):
		_ = c.Error(err)
		writeError(c, http.StatusServiceUnavailable, "dependency unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

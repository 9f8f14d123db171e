// README: Category reference data handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/modules/category"
	"zerowaste/internal/types"
)

type CategoryService interface {
	List(ctx context.Context) ([]*category.Category, error)
	Get(ctx context.Context, id types.ID) (*category.Category, error)
	Create(ctx context.Context, name, description, icon string) (*category.Category, error)
	Update(ctx context.Context, id types.ID, name, description, icon string) (*category.Category, error)
	Delete(ctx context.Context, id types.ID) error
}

type CategoryHandler struct {
	categories CategoryService
}

func NewCategoryHandler(svc CategoryService) *CategoryHandler {
	return &CategoryHandler{categories: svc}
}

type categoryReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

func (h *CategoryHandler) List(c *gin.Context) {
	cs, err := h.categories.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]categoryResp, 0, len(cs))
	for _, cat := range cs {
		out = append(out, categoryJSON(cat))
	}
	writeJSON(c, http.StatusOK, gin.H{"categories": out})
}

func (h *CategoryHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	cat, err := h.categories.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, categoryJSON(cat))
}

func (h *CategoryHandler) Create(c *gin.Context) {
	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	cat, err := h.categories.Create(c.Request.Context(), req.Name, req.Description, req.Icon)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, categoryJSON(cat))
}

func (h *CategoryHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	cat, err := h.categories.Update(c.Request.Context(), id, req.Name, req.Description, req.Icon)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, categoryJSON(cat))
}

func (h *CategoryHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.categories.Delete(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

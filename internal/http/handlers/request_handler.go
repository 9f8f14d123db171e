// README: Request (claim) lifecycle handlers.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/http/middleware"
	"zerowaste/internal/modules/request"
	"zerowaste/internal/types"
)

type RequestService interface {
	Create(ctx context.Context, actor types.Actor, in request.CreateInput) (*request.Request, error)
	Get(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error)
	List(ctx context.Context, actor types.Actor, q request.ListQuery) ([]*request.Request, error)
	Stats(ctx context.Context) (map[request.Status]int, error)
	Accept(ctx context.Context, actor types.Actor, id types.ID, in request.AcceptInput) (*request.Request, error)
	Reject(ctx context.Context, actor types.Actor, id types.ID, in request.RejectInput) (*request.Request, error)
	Cancel(ctx context.Context, actor types.Actor, id types.ID, in request.CancelInput) (*request.Request, error)
	Complete(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error)
}

type RequestHandler struct {
	requests RequestService
}

func NewRequestHandler(svc RequestService) *RequestHandler {
	return &RequestHandler{requests: svc}
}

type createRequestReq struct {
	DonationID string `json:"donation_id" binding:"required"`
	Message    string `json:"message"`
}

type acceptRequestReq struct {
	PickupAt *time.Time `json:"pickup_at"`
	Message  string     `json:"message"`
}

type reasonReq struct {
	Reason string `json:"reason"`
}

// bindOptional decodes an optional JSON body; an empty body leaves dst zero.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if !isValidID(req.DonationID) {
		writeError(c, http.StatusBadRequest, "invalid donation_id")
		return
	}
	r, err := h.requests.Create(c.Request.Context(), middleware.Caller(c), request.CreateInput{
		DonationID: types.ID(req.DonationID),
		Message:    req.Message,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, requestJSON(r))
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.requests.Get(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, requestJSON(r))
}

// List accepts ?as=requester|provider|all, ?status=, ?donation_id= and ?limit=.
func (h *RequestHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	q := request.ListQuery{
		As:     c.Query("as"),
		Status: request.Status(c.Query("status")),
		Limit:  limit,
	}
	if v := c.Query("donation_id"); v != "" {
		if !isValidID(v) {
			writeError(c, http.StatusBadRequest, "invalid donation_id")
			return
		}
		q.DonationID = types.ID(v)
	}
	rs, err := h.requests.List(c.Request.Context(), middleware.Caller(c), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]requestResp, 0, len(rs))
	for _, r := range rs {
		out = append(out, requestJSON(r))
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": out})
}

func (h *RequestHandler) Stats(c *gin.Context) {
	stats, err := h.requests.Stats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, stats)
}

func (h *RequestHandler) Accept(c *gin.Context) {
	var req acceptRequestReq
	if !bindOptional(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error) {
		return h.requests.Accept(ctx, actor, id, request.AcceptInput{PickupAt: req.PickupAt, Message: req.Message})
	})
}

func (h *RequestHandler) Reject(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error) {
		return h.requests.Reject(ctx, actor, id, request.RejectInput{Reason: req.Reason})
	})
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	h.transition(c, func(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error) {
		return h.requests.Cancel(ctx, actor, id, request.CancelInput{Reason: req.Reason})
	})
}

func (h *RequestHandler) Complete(c *gin.Context) {
	h.transition(c, h.requests.Complete)
}

func (h *RequestHandler) transition(c *gin.Context, fn func(ctx context.Context, actor types.Actor, id types.ID) (*request.Request, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := fn(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, requestJSON(r))
}

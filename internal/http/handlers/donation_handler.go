// README: Donation listing and item status handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"zerowaste/internal/http/middleware"
	"zerowaste/internal/modules/donation"
	"zerowaste/internal/types"
)

type DonationService interface {
	Create(ctx context.Context, cmd donation.CreateCommand) (*donation.Donation, error)
	Get(ctx context.Context, id types.ID) (*donation.Donation, error)
	ListAvailable(ctx context.Context, f donation.ListFilter) ([]*donation.Donation, error)
	Update(ctx context.Context, actor types.Actor, cmd donation.UpdateCommand) (*donation.Donation, error)
	ListMine(ctx context.Context, donorID types.ID) ([]*donation.Donation, error)
	Claim(ctx context.Context, id types.ID, actor types.Actor) (*donation.Donation, error)
	CompleteClaim(ctx context.Context, id types.ID, actor types.Actor) (*donation.Donation, error)
	Release(ctx context.Context, id types.ID, actor types.Actor) (*donation.Donation, error)
	Withdraw(ctx context.Context, id types.ID, actor types.Actor) (*donation.Donation, error)
}

type DonationHandler struct {
	donations DonationService
	now       func() time.Time
}

func NewDonationHandler(svc DonationService) *DonationHandler {
	return &DonationHandler{donations: svc, now: time.Now}
}

type createDonationReq struct {
	Kind        donation.Kind      `json:"kind" binding:"required"`
	Title       string             `json:"title" binding:"required,max=200"`
	Description string             `json:"description" binding:"max=2000"`
	CategoryID  *types.ID          `json:"category_id"`
	Quantity    decimal.Decimal    `json:"quantity"`
	Unit        string             `json:"unit" binding:"max=32"`
	Condition   donation.Condition `json:"condition"`
	Location    *pointJSON         `json:"location"`
	Address     string             `json:"address" binding:"max=500"`
	ExpiresAt   *time.Time         `json:"expires_at"`
}

func (h *DonationHandler) Create(c *gin.Context) {
	var req createDonationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.CategoryID != nil && !isValidID(string(*req.CategoryID)) {
		writeError(c, http.StatusBadRequest, "invalid category_id")
		return
	}
	d, err := h.donations.Create(c.Request.Context(), donation.CreateCommand{
		DonorID:     types.ID(middleware.CallerUID(c)),
		Kind:        req.Kind,
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Condition:   req.Condition,
		Position:    toPoint(req.Location),
		Address:     req.Address,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, donationJSON(d, h.now()))
}

func (h *DonationHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := h.donations.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, donationJSON(d, h.now()))
}

type updateDonationReq struct {
	Title       *string             `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string             `json:"description" binding:"omitempty,max=2000"`
	CategoryID  *types.ID           `json:"category_id"`
	Quantity    *decimal.Decimal    `json:"quantity"`
	Unit        *string             `json:"unit" binding:"omitempty,max=32"`
	Condition   *donation.Condition `json:"condition"`
	Location    *pointJSON          `json:"location"`
	Address     *string             `json:"address" binding:"omitempty,max=500"`
	ExpiresAt   *time.Time          `json:"expires_at"`
}

// Update edits the caller's own available listing.
func (h *DonationHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateDonationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.CategoryID != nil && !isValidID(string(*req.CategoryID)) {
		writeError(c, http.StatusBadRequest, "invalid category_id")
		return
	}
	d, err := h.donations.Update(c.Request.Context(), middleware.Caller(c), donation.UpdateCommand{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		CategoryID:  req.CategoryID,
		Quantity:    req.Quantity,
		Unit:        req.Unit,
		Condition:   req.Condition,
		Position:    toPoint(req.Location),
		Address:     req.Address,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, donationJSON(d, h.now()))
}

// ListAvailable serves the open listings. Filters: ?kind=, ?category_id=,
// ?condition=, ?q= (title or description), paged by ?limit= and ?offset=.
func (h *DonationHandler) ListAvailable(c *gin.Context) {
	f := donation.ListFilter{
		Kind:      donation.Kind(c.Query("kind")),
		Condition: donation.Condition(c.Query("condition")),
		Keyword:   c.Query("q"),
	}
	if f.Kind != "" && !f.Kind.Valid() {
		writeError(c, http.StatusBadRequest, "invalid kind")
		return
	}
	if f.Condition != "" && !f.Condition.Valid() {
		writeError(c, http.StatusBadRequest, "invalid condition")
		return
	}
	if raw := c.Query("category_id"); raw != "" {
		if !isValidID(raw) {
			writeError(c, http.StatusBadRequest, "invalid category_id")
			return
		}
		id := types.ID(raw)
		f.CategoryID = &id
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	ds, err := h.donations.ListAvailable(c.Request.Context(), f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"donations": donationsJSON(ds, h.now())})
}

func (h *DonationHandler) ListMine(c *gin.Context) {
	ds, err := h.donations.ListMine(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"donations": donationsJSON(ds, h.now())})
}

func (h *DonationHandler) Claim(c *gin.Context) {
	h.transition(c, h.donations.Claim)
}

func (h *DonationHandler) Complete(c *gin.Context) {
	h.transition(c, h.donations.CompleteClaim)
}

func (h *DonationHandler) Release(c *gin.Context) {
	h.transition(c, h.donations.Release)
}

func (h *DonationHandler) Withdraw(c *gin.Context) {
	h.transition(c, h.donations.Withdraw)
}

type donationTransition func(ctx context.Context, id types.ID, actor types.Actor) (*donation.Donation, error)

func (h *DonationHandler) transition(c *gin.Context, fn donationTransition) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := fn(c.Request.Context(), id, middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, donationJSON(d, h.now()))
}

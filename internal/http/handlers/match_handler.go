// README: Matching handlers for donors and recipients.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"zerowaste/internal/http/middleware"
	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/types"
)

type MatchService interface {
	RecipientsFor(ctx context.Context, d *donation.Donation, q matching.Query) ([]matching.Match, error)
	DonationsForRecipient(ctx context.Context, userID types.ID, q matching.Query) ([]matching.DonationMatch, error)
}

// DonationGetter loads the donation whose recipients are requested.
type DonationGetter interface {
	Get(ctx context.Context, id types.ID) (*donation.Donation, error)
}

type MatchHandler struct {
	matches   MatchService
	donations DonationGetter
	now       func() time.Time
}

func NewMatchHandler(matches MatchService, donations DonationGetter) *MatchHandler {
	return &MatchHandler{matches: matches, donations: donations, now: time.Now}
}

func bindMatchQuery(c *gin.Context) (matching.Query, bool) {
	var q matching.Query
	if v := c.Query("radius_km"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return q, false
		}
		q.MaxDistanceKm = km
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return q, false
	}
	q.Limit = limit
	return q, true
}

// RecipientsForDonation ranks recipients for a donation. Only its donor or an admin may ask.
func (h *MatchHandler) RecipientsForDonation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	q, ok := bindMatchQuery(c)
	if !ok {
		return
	}
	d, err := h.donations.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	caller := middleware.Caller(c)
	if !d.IsOwner(caller) && caller.Role != types.RoleAdmin {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	ms, err := h.matches.RecipientsFor(c.Request.Context(), d, q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"matches": ms})
}

func (h *MatchHandler) DonationsForMe(c *gin.Context) {
	q, ok := bindMatchQuery(c)
	if !ok {
		return
	}
	ms, err := h.matches.DonationsForRecipient(c.Request.Context(), types.ID(middleware.CallerUID(c)), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	now := h.now()
	out := make([]donationMatchResp, 0, len(ms))
	for _, m := range ms {
		out = append(out, donationMatchResp{Match: m.Match, Donation: donationJSON(m.Donation, now)})
	}
	writeJSON(c, http.StatusOK, gin.H{"matches": out})
}

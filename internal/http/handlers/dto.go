package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"zerowaste/internal/modules/category"
	"zerowaste/internal/modules/donation"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/modules/request"
	"zerowaste/internal/modules/user"
	"zerowaste/internal/types"
)

type pointJSON struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

func toPoint(p *pointJSON) *types.Point {
	if p == nil {
		return nil
	}
	return &types.Point{Lng: p.Lng, Lat: p.Lat}
}

func fromPoint(p *types.Point) *pointJSON {
	if p == nil {
		return nil
	}
	return &pointJSON{Lng: p.Lng, Lat: p.Lat}
}

type donationResp struct {
	ID              types.ID           `json:"id"`
	DonorID         types.ID           `json:"donor_id"`
	Kind            donation.Kind      `json:"kind"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	CategoryID      *types.ID          `json:"category_id,omitempty"`
	Quantity        decimal.Decimal    `json:"quantity"`
	Unit            string             `json:"unit,omitempty"`
	Condition       donation.Condition `json:"condition,omitempty"`
	Location        *pointJSON         `json:"location"`
	Address         string             `json:"address,omitempty"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty"`
	DaysUntilExpiry *float64           `json:"days_until_expiry,omitempty"`
	Status          donation.Status    `json:"status"`
	ClaimedBy       *types.ID          `json:"claimed_by,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

func donationJSON(d *donation.Donation, now time.Time) donationResp {
	pos := d.Position
	return donationResp{
		ID:              d.ID,
		DonorID:         d.DonorID,
		Kind:            d.Kind,
		Title:           d.Title,
		Description:     d.Description,
		CategoryID:      d.CategoryID,
		Quantity:        d.Quantity,
		Unit:            d.Unit,
		Condition:       d.Condition,
		Location:        fromPoint(&pos),
		Address:         d.Address,
		ExpiresAt:       d.ExpiresAt,
		DaysUntilExpiry: d.DaysUntilExpiry(now),
		Status:          d.Status,
		ClaimedBy:       d.ClaimedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func donationsJSON(ds []*donation.Donation, now time.Time) []donationResp {
	out := make([]donationResp, 0, len(ds))
	for _, d := range ds {
		out = append(out, donationJSON(d, now))
	}
	return out
}

type requestResp struct {
	ID              types.ID       `json:"id"`
	DonationID      types.ID       `json:"donation_id"`
	RequesterID     types.ID       `json:"requester_id"`
	ProviderID      types.ID       `json:"provider_id"`
	Status          request.Status `json:"status"`
	Message         string         `json:"message,omitempty"`
	ResponseMessage string         `json:"response_message,omitempty"`
	PickupAt        *time.Time     `json:"pickup_at,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	AcceptedAt      *time.Time     `json:"accepted_at,omitempty"`
	RejectedAt      *time.Time     `json:"rejected_at,omitempty"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

func requestJSON(r *request.Request) requestResp {
	return requestResp{
		ID:              r.ID,
		DonationID:      r.DonationID,
		RequesterID:     r.RequesterID,
		ProviderID:      r.ProviderID,
		Status:          r.Status,
		Message:         r.Message,
		ResponseMessage: r.ResponseMessage,
		PickupAt:        r.PickupAt,
		CancelReason:    r.CancelReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		AcceptedAt:      r.AcceptedAt,
		RejectedAt:      r.RejectedAt,
		CancelledAt:     r.CancelledAt,
		CompletedAt:     r.CompletedAt,
	}
}

type userResp struct {
	ID            types.ID   `json:"id"`
	Name          string     `json:"name"`
	Role          types.Role `json:"role"`
	Location      *pointJSON `json:"location,omitempty"`
	Address       string     `json:"address,omitempty"`
	NotifyAddress string     `json:"notify_address,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func userJSON(u *user.User) userResp {
	return userResp{
		ID:            u.ID,
		Name:          u.Name,
		Role:          u.Role,
		Location:      fromPoint(u.Position),
		Address:       u.Address,
		NotifyAddress: u.NotifyAddress,
		UpdatedAt:     u.UpdatedAt,
	}
}

type categoryResp struct {
	ID          types.ID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
}

func categoryJSON(c *category.Category) categoryResp {
	return categoryResp{ID: c.ID, Name: c.Name, Description: c.Description, Icon: c.Icon}
}

type donationMatchResp struct {
	matching.Match
	Donation donationResp `json:"donation"`
}

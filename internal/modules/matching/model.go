// README: Matching candidates, weights and ranked results.
package matching

import "zerowaste/internal/types"

// Candidate is one thing that can be matched against a reference point.
// DaysUntilExpiry is nil for candidates without an expiry.
type Candidate struct {
	ID              types.ID
	Position        types.Point
	DaysUntilExpiry *float64
}

type Match struct {
	ID            types.ID `json:"id"`
	DistanceKm    float64  `json:"distance_km"`
	DistanceScore float64  `json:"distance_score"`
	UrgencyScore  float64  `json:"urgency_score"`
	Score         float64  `json:"score"`
}

// Weights of the distance and urgency components; they sum to 1.
type Weights struct {
	Distance float64
	Urgency  float64
}

var (
	// RecipientsForItem favours proximity when a donor looks for takers.
	RecipientsForItem = Weights{Distance: 0.6, Urgency: 0.4}
	// ItemsForRecipient weighs proximity and urgency equally.
	ItemsForRecipient = Weights{Distance: 0.5, Urgency: 0.5}
)

// Query bounds a match. Zero values select the defaults.
type Query struct {
	MaxDistanceKm float64
	Limit         int
}

const (
	DefaultMaxDistanceKm = 10.0
	// DefaultRecipientLimit caps recipients suggested for one donation.
	DefaultRecipientLimit = 5
	// DefaultDonationLimit caps donations suggested to one recipient.
	DefaultDonationLimit = 10
)

// neutralUrgency applies to items that never expire.
const neutralUrgency = 0.8

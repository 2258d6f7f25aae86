package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LoyaltyPointsEntry is one grant or consumed remainder in a user's points
// ledger. Points is the remaining balance in this entry. An entry is either
// fully consumed (flipped to used=true, linked to the consuming reservation)
// or split: the original entry's points is reduced and a new used=true entry
// is inserted for the consumed remainder. Entries are immutable once used.
type LoyaltyPointsEntry struct {
	bun.BaseModel `bun:"table:loyalty_points"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID        string    `bun:"user_id" json:"user_id"`
	Points        int       `bun:"points" json:"points"`
	ExpiresAt     time.Time `bun:"expires_at" json:"expires_at"`
	Used          bool      `bun:"used" json:"used"`
	Revoked       bool      `bun:"revoked" json:"revoked"`
	ReservationID int64     `bun:"reservation_id,nullzero" json:"reservation_id,omitempty"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
}

package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountCode struct {
	bun.BaseModel `bun:"table:discount_codes"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	Code        string    `bun:"code,unique" json:"code"`
	Percentage  float64   `bun:"percentage" json:"percentage"`
	ValidFrom   time.Time `bun:"valid_from" json:"valid_from"`
	ValidUntil  time.Time `bun:"valid_until" json:"valid_until"`
	MaxUses     int       `bun:"max_uses" json:"max_uses"`
	CurrentUses int       `bun:"current_uses" json:"current_uses"`
}

// DiscountCodeUse records one redemption per (code, reservation).
type DiscountCodeUse struct {
	bun.BaseModel `bun:"table:discount_code_uses"`

	ID            int64     `bun:"id,pk,autoincrement" json:"id"`
	Code          string    `bun:"code" json:"code"`
	ReservationID int64     `bun:"reservation_id" json:"reservation_id"`
	UsedAt        time.Time `bun:"used_at" json:"used_at"`
}

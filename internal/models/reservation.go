package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation statuses
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Payment methods. MethodCard is the only one settled through the online
// processor; the others are admin-mediated settlements.
const (
	MethodCard     = "card"
	MethodCash     = "cash"
	MethodTransfer = "transfer"
	MethodPending  = "pending"
)

// Refund statuses
const (
	RefundPending = "pending"
	RefundSettled = "settled"
)

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID           int64  `bun:"id,pk,autoincrement" json:"id"`
	CustomerName string `bun:"customer_name" json:"customer_name"`
	Email        string `bun:"email" json:"email"`
	Phone        string `bun:"phone" json:"phone,omitempty"`
	UserID       string `bun:"user_id,nullzero" json:"user_id,omitempty"` // empty for guest bookings

	Date      string `bun:"date" json:"date"`             // civil date, YYYY-MM-DD
	StartTime string `bun:"start_time" json:"start_time"` // civil time, HH:MM
	EndTime   string `bun:"end_time" json:"end_time"`

	Price         float64 `bun:"price" json:"price"` // cumulative amount charged across reschedules
	OriginalPrice float64 `bun:"original_price" json:"original_price"`
	Status        string  `bun:"status" json:"status"`

	// RescheduleCount is the optimistic-lock token: every reschedule write is
	// conditional on the stored value still matching the value read.
	RescheduleCount int `bun:"reschedule_count" json:"reschedule_count"`

	// Snapshot of the pre-change slot, captured on the first reschedule only.
	OriginalDate      string `bun:"original_date,nullzero" json:"original_date,omitempty"`
	OriginalStartTime string `bun:"original_start_time,nullzero" json:"original_start_time,omitempty"`

	PaymentMethod string `bun:"payment_method" json:"payment_method"`
	PaymentRef    string `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`

	DiscountCode       string  `bun:"discount_code,nullzero" json:"discount_code,omitempty"`
	DiscountAmount     float64 `bun:"discount_amount" json:"discount_amount"`
	LastMinuteDiscount float64 `bun:"last_minute_discount" json:"last_minute_discount"`
	ReferralDiscount   float64 `bun:"referral_discount" json:"referral_discount"`
	PointsUsed         int     `bun:"points_used" json:"points_used"`
	CreditsUsed        float64 `bun:"credits_used" json:"credits_used"`

	RefundAmount float64    `bun:"refund_amount" json:"refund_amount"`
	RefundStatus string     `bun:"refund_status,nullzero" json:"refund_status,omitempty"`
	RefundID     string     `bun:"refund_id,nullzero" json:"refund_id,omitempty"`
	CancelledAt  *time.Time `bun:"cancelled_at,nullzero" json:"cancelled_at,omitempty"`
	CancelledBy  string     `bun:"cancelled_by,nullzero" json:"cancelled_by,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

// RescheduleHistoryEntry records one completed reschedule. Append-only; used
// to reconstruct how much of the current price was paid through which method.
type RescheduleHistoryEntry struct {
	bun.BaseModel `bun:"table:reservation_reschedule_history"`

	ID            int64  `bun:"id,pk,autoincrement" json:"id"`
	ReservationID int64  `bun:"reservation_id" json:"reservation_id"`
	PrevDate      string `bun:"prev_date" json:"prev_date"`
	PrevStartTime string `bun:"prev_start_time" json:"prev_start_time"`
	NewDate       string `bun:"new_date" json:"new_date"`
	NewStartTime  string `bun:"new_start_time" json:"new_start_time"`

	// ActorUserID is empty for the unauthenticated guest flow.
	ActorUserID string `bun:"actor_user_id,nullzero" json:"actor_user_id,omitempty"`

	AdditionalAmount float64 `bun:"additional_amount" json:"additional_amount"`
	PaymentMethod    string  `bun:"payment_method,nullzero" json:"payment_method,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

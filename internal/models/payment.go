package models

import "time"

// Transaction kinds in the payment log.
const (
	TxnCharge = "charge"
	TxnRefund = "refund"
)

// PaymentTransaction is one row in the append-only payment log: every
// processor charge and refund lands here, keyed back to its reservation.
// The log is what reconciliation reads; it never drives booking decisions.
type PaymentTransaction struct {
	TransactionID string    `json:"transaction_id"`
	ReservationID int64     `json:"reservation_id"`
	Kind          string    `json:"kind"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	ProcessorRef  string    `json:"processor_ref,omitempty"`
	CreatedDate   time.Time `json:"created_date"`
}

package booking

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"studio-booking/internal/auth"
	"studio-booking/internal/models"
)

// cardPaidTotal reconstructs how much of a reservation's price went through
// the card processor: the original charge if it was a card payment, plus
// every card-settled reschedule increase. Cash, transfer, and pending
// amounts are not the processor's money and are never refunded through it.
func cardPaidTotal(r *models.Reservation, history []models.RescheduleHistoryEntry) float64 {
	total := 0.0
	if r.PaymentMethod == models.MethodCard {
		total += r.OriginalPrice
	}
	for _, h := range history {
		if h.PaymentMethod == models.MethodCard {
			total += h.AdditionalAmount
		}
	}
	return total
}

// CancelReservation cancels a confirmed reservation and computes the refund
// from the mixed payment history: 80% of the card-paid total, rounded. The
// refund call itself is fire-and-forget; if the processor fails, the
// cancellation still commits with a placeholder reference and a pending
// status for manual reconciliation.
func (s *Service) CancelReservation(ctx context.Context, actor auth.Actor, reservationID int64) (*models.Reservation, error) {
	r, role, err := s.loadAuthorized(ctx, actor, reservationID)
	if err != nil {
		return nil, err
	}

	if r.Status != models.StatusConfirmed {
		return nil, &BusinessRuleError{Reason: fmt.Sprintf("reservation is %s and cannot be cancelled", r.Status)}
	}

	if role != auth.RoleAdmin {
		date, err := s.Calendar.ParseDate(r.Date)
		if err != nil {
			return nil, err
		}
		days := s.Calendar.BusinessDaysUntil(date)
		if days < s.LeadTimeDays {
			return nil, &BusinessRuleError{
				Reason: fmt.Sprintf("cancelling needs %d business days of notice, only %d remain", s.LeadTimeDays, days),
			}
		}
	}

	history, err := s.Store.ListRescheduleHistory(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	totalCardPaid := cardPaidTotal(r, history)
	refundAmount := math.Round(totalCardPaid * s.RefundRate)

	var refundID string
	if refundAmount > 0 {
		refundID, err = s.Payments.Refund(ctx, r.PaymentRef, refundAmount)
		if err != nil {
			// The cancellation goes through anyway; a human settles the
			// refund later against the placeholder.
			refundID = "pending-" + uuid.NewString()
			s.Logger.Error("STRIPE", fmt.Sprintf("refund of %.2f for reservation %d failed, placeholder %s: %v",
				refundAmount, r.ID, refundID, err))
		} else {
			s.recordTransaction(r.ID, models.TxnRefund, refundAmount, models.MethodCard, refundID)
		}
	}

	now := s.Calendar.Now()
	cancelledBy := actor.UserID
	if cancelledBy == "" {
		cancelledBy = "guest"
	}

	r.Status = models.StatusCancelled
	r.RefundAmount = refundAmount
	r.RefundStatus = models.RefundPending
	r.RefundID = refundID
	r.CancelledAt = &now
	r.CancelledBy = cancelledBy

	ok, err := s.Store.MarkCancelled(ctx, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{Reason: "reservation is no longer confirmed"}
	}

	// Points earned on this booking are clawed back if still unspent.
	if err := s.Points.RevokeGrant(ctx, r.ID); err != nil {
		s.Logger.Warn("LOYALTY", fmt.Sprintf("revoking grant for reservation %d failed: %v", r.ID, err))
	}

	go s.Notify.BookingCancelled(r)
	return r, nil
}

package booking

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"studio-booking/internal/auth"
	"studio-booking/internal/booking/db"
	"studio-booking/internal/models"
)

// RescheduleRequest moves a reservation to a new slot.
type RescheduleRequest struct {
	ReservationID int64  `json:"-"`
	TargetDate    string `json:"target_date"`
	TargetTime    string `json:"target_time"`
	TargetEndTime string `json:"target_end_time"`

	// CardToken settles a price increase in the completion step.
	CardToken string `json:"card_token"`

	// SettlementMethod lets an admin record a price increase as cash,
	// transfer, or pending instead of capturing a card.
	SettlementMethod string `json:"settlement_method"`
}

// RescheduleResult either carries the moved reservation or reports that a
// price increase must be paid first.
type RescheduleResult struct {
	PaymentRequired bool                `json:"payment_required"`
	AmountDue       float64             `json:"amount_due,omitempty"`
	Reservation     *models.Reservation `json:"reservation"`
}

// rescheduleCheck is everything RequestReschedule verified before deciding
// whether payment is needed; CompleteReschedule re-derives it from scratch
// because time passed while the customer paid.
type rescheduleCheck struct {
	reservation *models.Reservation
	role        auth.Role
	delta       float64
	endTime     string
}

func (s *Service) checkReschedule(ctx context.Context, actor auth.Actor, req *RescheduleRequest) (*rescheduleCheck, error) {
	r, role, err := s.loadAuthorized(ctx, actor, req.ReservationID)
	if err != nil {
		return nil, err
	}

	if r.Status != models.StatusConfirmed {
		return nil, &BusinessRuleError{Reason: fmt.Sprintf("reservation is %s and cannot be rescheduled", r.Status)}
	}

	isAdmin := role == auth.RoleAdmin
	if !isAdmin && r.RescheduleCount >= 1 {
		return nil, &BusinessRuleError{Reason: "this reservation was already rescheduled once"}
	}

	targetDate, err := s.Calendar.ParseDate(req.TargetDate)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if _, err := s.Calendar.ParseSlot(req.TargetDate, req.TargetTime); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	endTime := req.TargetEndTime
	if endTime == "" {
		endTime = r.EndTime
	} else if _, err := s.Calendar.ParseSlot(req.TargetDate, endTime); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if targetDate.Before(s.Calendar.Today()) {
		return nil, &ValidationError{Reason: "target date is in the past"}
	}

	// The lead-time gate measures notice given on the current booking, so
	// it runs against the reservation's present date, not the target.
	if !isAdmin {
		currentDate, err := s.Calendar.ParseDate(r.Date)
		if err != nil {
			return nil, err
		}
		days := s.Calendar.BusinessDaysUntil(currentDate)
		if days < s.LeadTimeDays {
			return nil, &BusinessRuleError{
				Reason: fmt.Sprintf("rescheduling needs %d business days of notice, only %d remain", s.LeadTimeDays, days),
			}
		}
	}

	free, err := s.Store.IsSlotFree(ctx, req.TargetDate, req.TargetTime)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, &ConflictError{Reason: "slot no longer available"}
	}

	newPrice, err := s.Prices.PriceFor(ctx, targetDate)
	if err != nil {
		return nil, err
	}

	return &rescheduleCheck{
		reservation: r,
		role:        role,
		delta:       newPrice - r.Price,
		endTime:     endTime,
	}, nil
}

// RequestReschedule runs the reschedule state machine. When the target date
// costs more than was paid so far, nothing is mutated and the caller gets
// the amount due; CompleteReschedule finishes after payment. Admins may
// instead record the increase with a manual settlement method and move the
// reservation in one step. Equal or lower prices move immediately; a lower
// price never refunds the difference.
func (s *Service) RequestReschedule(ctx context.Context, actor auth.Actor, req *RescheduleRequest) (*RescheduleResult, error) {
	check, err := s.checkReschedule(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	if check.delta > 0 {
		if check.role == auth.RoleAdmin && req.SettlementMethod != "" {
			switch req.SettlementMethod {
			case models.MethodCash, models.MethodTransfer, models.MethodPending:
			default:
				return nil, &ValidationError{Reason: fmt.Sprintf("unknown settlement method %q", req.SettlementMethod)}
			}
			return s.applyReschedule(ctx, actor, check, req, check.delta, req.SettlementMethod, "")
		}
		return &RescheduleResult{
			PaymentRequired: true,
			AmountDue:       check.delta,
			Reservation:     check.reservation,
		}, nil
	}

	return s.applyReschedule(ctx, actor, check, req, 0, "", "")
}

// CompleteReschedule is the continuation after the customer paid the price
// increase: every check runs again, the delta is captured, and only then is
// the guarded write attempted. A lost optimistic-lock race after capture
// refunds the charge.
func (s *Service) CompleteReschedule(ctx context.Context, actor auth.Actor, req *RescheduleRequest) (*RescheduleResult, error) {
	check, err := s.checkReschedule(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	if check.delta <= 0 {
		return s.applyReschedule(ctx, actor, check, req, 0, "", "")
	}

	paymentRef, err := s.Payments.Capture(ctx, req.CardToken, check.delta, check.reservation.Email, map[string]string{
		"reservation": fmt.Sprintf("%d", check.reservation.ID),
		"slot":        req.TargetDate + " " + req.TargetTime,
	})
	if err != nil {
		return nil, &UpstreamError{System: "payment processor", Err: err}
	}

	result, err := s.applyReschedule(ctx, actor, check, req, check.delta, models.MethodCard, paymentRef)
	if err != nil {
		s.refundBestEffort(check.reservation, paymentRef, check.delta)
		return nil, err
	}
	return result, nil
}

// applyReschedule performs the guarded write, snapshots the original slot on
// the first reschedule, appends history, and fires the notification.
func (s *Service) applyReschedule(ctx context.Context, actor auth.Actor, check *rescheduleCheck, req *RescheduleRequest, additional float64, method, paymentRef string) (*RescheduleResult, error) {
	r := check.reservation
	expected := r.RescheduleCount

	claimID := uuid.NewString()
	ok, err := s.Slots.ClaimSlot(ctx, req.TargetDate, req.TargetTime, claimID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{Reason: "slot no longer available"}
	}
	release := func() {
		if rerr := s.Slots.ReleaseSlot(ctx, req.TargetDate, req.TargetTime, claimID); rerr != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("release claim for %s %s: %v", req.TargetDate, req.TargetTime, rerr))
		}
	}

	prevDate, prevTime := r.Date, r.StartTime

	updated := *r
	updated.Date = req.TargetDate
	updated.StartTime = req.TargetTime
	updated.EndTime = check.endTime
	updated.Price = r.Price + additional
	updated.RescheduleCount = expected + 1
	if expected == 0 {
		updated.OriginalDate = prevDate
		updated.OriginalStartTime = prevTime
	}
	if method == models.MethodCard && paymentRef != "" && updated.PaymentRef == "" {
		// First card money on a manually settled booking; keep the charge
		// reference so a later cancellation has something to refund against.
		updated.PaymentRef = paymentRef
	}

	ok, err = s.Store.UpdateReservationForReschedule(ctx, &updated, expected)
	if err != nil {
		release()
		// The slot unique index fired: someone confirmed the target slot
		// between the availability check and this write.
		if db.IsUniqueViolation(err) {
			return nil, &ConflictError{Reason: "slot no longer available"}
		}
		return nil, err
	}
	if !ok {
		release()
		return nil, &ConflictError{Reason: "reservation changed concurrently, retry with fresh data"}
	}

	history := &models.RescheduleHistoryEntry{
		ReservationID:    r.ID,
		PrevDate:         prevDate,
		PrevStartTime:    prevTime,
		NewDate:          req.TargetDate,
		NewStartTime:     req.TargetTime,
		ActorUserID:      actor.UserID,
		AdditionalAmount: additional,
		PaymentMethod:    method,
	}
	if err := s.Store.AppendRescheduleHistory(ctx, history); err != nil {
		s.Logger.Error("DATABASE", fmt.Sprintf("history append for reservation %d failed: %v", r.ID, err))
	}
	if additional > 0 {
		s.recordTransaction(r.ID, models.TxnCharge, additional, method, paymentRef)
	}

	go s.Notify.BookingRescheduled(&updated)
	return &RescheduleResult{Reservation: &updated}, nil
}

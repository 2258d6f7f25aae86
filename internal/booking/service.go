// Package booking orchestrates the reservation lifecycle. All coordination
// between concurrent writers goes through conditional updates in the store
// and the Redis slot claim; there are no in-process locks.
package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio-booking/internal/auth"
	"studio-booking/internal/booking/db"
	"studio-booking/internal/calendar"
	"studio-booking/internal/logger"
	"studio-booking/internal/loyalty"
	"studio-booking/internal/models"
	"studio-booking/internal/payment"
)

// Store is the reservation persistence the service needs.
type Store interface {
	GetReservationByID(ctx context.Context, id int64) (*models.Reservation, error)
	IsSlotFree(ctx context.Context, date, startTime string) (bool, error)
	ConfirmedOnDate(ctx context.Context, date string) ([]models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservationForReschedule(ctx context.Context, r *models.Reservation, expectedCount int) (bool, error)
	AppendRescheduleHistory(ctx context.Context, h *models.RescheduleHistoryEntry) error
	ListRescheduleHistory(ctx context.Context, reservationID int64) ([]models.RescheduleHistoryEntry, error)
	MarkCancelled(ctx context.Context, r *models.Reservation) (bool, error)
	UpdatePointsUsed(ctx context.Context, reservationID int64, points int) error
	SettleRefund(ctx context.Context, reservationID int64, refundID string) (bool, error)
}

// SlotClaimer is the Redis claim bridging the availability check and the
// reservation insert.
type SlotClaimer interface {
	ClaimSlot(ctx context.Context, date, startTime, claimID string) (bool, error)
	ReleaseSlot(ctx context.Context, date, startTime, claimID string) error
}

// PointsLedger is the loyalty ledger surface the service consumes.
type PointsLedger interface {
	Balance(ctx context.Context, userID string, now time.Time) (int, error)
	GrantForCharge(ctx context.Context, userID string, charged float64, reservationID int64, now time.Time) (int, error)
	Consume(ctx context.Context, userID string, requested int, reservationID int64, priorPoints int, updater loyalty.ReservationPointsUpdater, now time.Time) error
	RevokeGrant(ctx context.Context, reservationID int64) error
}

// Discounts validates and redeems promotional codes.
type Discounts interface {
	Validate(ctx context.Context, code string, price float64, now time.Time) (float64, error)
	Redeem(ctx context.Context, code string, reservationID int64, now time.Time) error
}

// PriceOracle is the authoritative price for a date.
type PriceOracle interface {
	PriceFor(ctx context.Context, date time.Time) (float64, error)
}

// NotifySink receives the fire-and-forget side effects.
type NotifySink interface {
	BookingConfirmed(r *models.Reservation, guestToken string)
	BookingRescheduled(r *models.Reservation)
	BookingCancelled(r *models.Reservation)
	ManageLink(reservationID int64, guestToken string) string
}

// TransactionLog records processor charges and refunds for audit.
type TransactionLog interface {
	SaveTransaction(txn *models.PaymentTransaction) error
}

type Service struct {
	Store     Store
	Slots     SlotClaimer
	Payments  payment.Processor
	TxnLog    TransactionLog
	Points    PointsLedger
	Discounts Discounts
	Prices    PriceOracle
	Guard     *auth.Guard
	Tokens    *auth.GuestTokens
	Calendar  *calendar.Calendar
	Notify    NotifySink
	Logger    *logger.Logger

	LeadTimeDays int
	RefundRate   float64
}

// CreateRequest is one checkout attempt.
type CreateRequest struct {
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`

	CardToken    string `json:"card_token"`
	DiscountCode string `json:"discount_code"`
	PointsToUse  int    `json:"points_to_use"`

	// PaymentMethod other than card marks an admin manual booking settled
	// by cash, transfer, or left pending.
	PaymentMethod string `json:"payment_method"`
}

// BookingResult is a committed reservation plus the guest credentials for
// managing it.
type BookingResult struct {
	Reservation  *models.Reservation `json:"reservation"`
	GuestToken   string              `json:"guest_token"`
	ManageLink   string              `json:"manage_link"`
	PointsEarned int                 `json:"points_earned"`

	// Warning is set when the booking stands but a follow-up step needs
	// manual reconciliation.
	Warning string `json:"warning,omitempty"`
}

func (s *Service) validateCreate(req *CreateRequest) error {
	if strings.TrimSpace(req.CustomerName) == "" {
		return &ValidationError{Reason: "customer name is required"}
	}
	if !strings.Contains(req.Email, "@") {
		return &ValidationError{Reason: "a valid email is required"}
	}
	if req.PointsToUse < 0 {
		return &ValidationError{Reason: "points to use cannot be negative"}
	}
	switch req.PaymentMethod {
	case "", models.MethodCard, models.MethodCash, models.MethodTransfer, models.MethodPending:
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown payment method %q", req.PaymentMethod)}
	}
	if req.EndTime == "" {
		return &ValidationError{Reason: "end time is required"}
	}
	return nil
}

// CreateBooking runs one checkout: validate, price, claim the slot, capture
// payment, then insert. The card capture happens before any row is written,
// so a processor failure leaves no state behind; the insert is backstopped
// by the slot unique index.
func (s *Service) CreateBooking(ctx context.Context, actor auth.Actor, req *CreateRequest) (*BookingResult, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	slotStart, err := s.Calendar.ParseSlot(req.Date, req.StartTime)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if _, err := s.Calendar.ParseSlot(req.Date, req.EndTime); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	now := s.Calendar.Now()
	if !slotStart.After(now) {
		return nil, &ValidationError{Reason: "slot is in the past"}
	}
	slotDate, _ := s.Calendar.ParseDate(req.Date)

	method := req.PaymentMethod
	if method == "" {
		method = models.MethodCard
	}
	if method != models.MethodCard {
		// Manual settlement is an admin capability.
		if err := s.Guard.RequireAdmin(ctx, actor.UserID); err != nil {
			return nil, &UnauthorizedError{Reason: "manual settlement requires an administrator"}
		}
	}

	free, err := s.Store.IsSlotFree(ctx, req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, &ConflictError{Reason: "slot no longer available"}
	}

	price, err := s.Prices.PriceFor(ctx, slotDate)
	if err != nil {
		return nil, err
	}

	var discountAmount float64
	if req.DiscountCode != "" {
		discountAmount, err = s.Discounts.Validate(ctx, req.DiscountCode, price, now)
		if err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("discount code rejected: %v", err)}
		}
	}

	if req.PointsToUse > 0 {
		if actor.UserID == "" {
			return nil, &ValidationError{Reason: "loyalty points require a signed-in account"}
		}
		balance, err := s.Points.Balance(ctx, actor.UserID, now)
		if err != nil {
			return nil, err
		}
		if balance < req.PointsToUse {
			return nil, &BusinessRuleError{Reason: fmt.Sprintf("insufficient points: balance is %d", balance)}
		}
	}

	// One point pays one currency unit.
	charged := price - discountAmount - float64(req.PointsToUse)
	if charged < 0 {
		return nil, &ValidationError{Reason: "points and discount exceed the slot price"}
	}

	claimID := uuid.NewString()
	ok, err := s.Slots.ClaimSlot(ctx, req.Date, req.StartTime, claimID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ConflictError{Reason: "slot no longer available"}
	}
	release := func() {
		if rerr := s.Slots.ReleaseSlot(context.Background(), req.Date, req.StartTime, claimID); rerr != nil {
			s.Logger.Warn("REDIS", fmt.Sprintf("release claim for %s %s: %v", req.Date, req.StartTime, rerr))
		}
	}

	var paymentRef string
	if method == models.MethodCard && charged > 0 {
		paymentRef, err = s.Payments.Capture(ctx, req.CardToken, charged, req.Email, map[string]string{
			"slot": req.Date + " " + req.StartTime,
		})
		if err != nil {
			release()
			return nil, &UpstreamError{System: "payment processor", Err: err}
		}
	}

	r := &models.Reservation{
		CustomerName:   strings.TrimSpace(req.CustomerName),
		Email:          strings.TrimSpace(req.Email),
		Phone:          req.Phone,
		UserID:         actor.UserID,
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Price:          charged,
		OriginalPrice:  charged,
		Status:         models.StatusConfirmed,
		PaymentMethod:  method,
		PaymentRef:     paymentRef,
		DiscountCode:   req.DiscountCode,
		DiscountAmount: discountAmount,
		PointsUsed:     req.PointsToUse,
		CreatedAt:      now,
	}

	if err := s.Store.CreateReservation(ctx, r); err != nil {
		release()
		if paymentRef != "" {
			s.refundBestEffort(r, paymentRef, charged)
		}
		if db.IsUniqueViolation(err) {
			return nil, &ConflictError{Reason: "slot no longer available"}
		}
		return nil, err
	}
	s.recordTransaction(r.ID, models.TxnCharge, charged, method, paymentRef)

	result := &BookingResult{Reservation: r}

	if req.DiscountCode != "" {
		if err := s.Discounts.Redeem(ctx, req.DiscountCode, r.ID, now); err != nil {
			// The booking stands; flag the code for reconciliation.
			s.Logger.Warn("DISCOUNT", fmt.Sprintf("code %s not redeemed for reservation %d: %v", req.DiscountCode, r.ID, err))
			result.Warning = "discount code could not be redeemed"
		}
	}

	if req.PointsToUse > 0 {
		if err := s.Points.Consume(ctx, actor.UserID, req.PointsToUse, r.ID, 0, s.Store, now); err != nil {
			switch cerr := err.(type) {
			case *loyalty.ConsumeConflictError:
				r.PointsUsed = cerr.Consumed
				return result, &PartialFailureError{Reason: cerr.Error()}
			case *loyalty.InsufficientPointsError:
				if uerr := s.Store.UpdatePointsUsed(ctx, r.ID, 0); uerr != nil {
					return result, uerr
				}
				r.PointsUsed = 0
				return result, &PartialFailureError{Reason: cerr.Error()}
			default:
				return result, err
			}
		}
	}

	earned, err := s.Points.GrantForCharge(ctx, actor.UserID, charged, r.ID, now)
	if err != nil {
		s.Logger.Warn("LOYALTY", fmt.Sprintf("grant for reservation %d failed: %v", r.ID, err))
	}
	result.PointsEarned = earned

	token, err := s.Tokens.Issue(r.Email, r.ID)
	if err != nil {
		return result, err
	}
	result.GuestToken = token
	result.ManageLink = s.Notify.ManageLink(r.ID, token)

	go s.Notify.BookingConfirmed(r, token)
	return result, nil
}

// AvailabilitySlot is one confirmed booking seen by the availability check.
type AvailabilitySlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// CheckAvailability lists the occupied slots for a date alongside its price.
func (s *Service) CheckAvailability(ctx context.Context, date string) ([]AvailabilitySlot, float64, error) {
	d, err := s.Calendar.ParseDate(date)
	if err != nil {
		return nil, 0, &ValidationError{Reason: err.Error()}
	}
	rs, err := s.Store.ConfirmedOnDate(ctx, date)
	if err != nil {
		return nil, 0, err
	}
	slots := make([]AvailabilitySlot, 0, len(rs))
	for _, r := range rs {
		slots = append(slots, AvailabilitySlot{StartTime: r.StartTime, EndTime: r.EndTime})
	}
	price, err := s.Prices.PriceFor(ctx, d)
	if err != nil {
		return nil, 0, err
	}
	return slots, price, nil
}

// GetReservation loads a reservation for anyone the guard lets in.
func (s *Service) GetReservation(ctx context.Context, actor auth.Actor, id int64) (*models.Reservation, error) {
	r, _, err := s.loadAuthorized(ctx, actor, id)
	return r, err
}

// LoyaltyBalance reports the caller's spendable points.
func (s *Service) LoyaltyBalance(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, &UnauthorizedError{Reason: "sign in to see your points"}
	}
	return s.Points.Balance(ctx, userID, s.Calendar.Now())
}

// ConsumeLoyaltyPoints spends points against an existing reservation, for
// manual adjustments. The same guarded ledger path as checkout applies.
func (s *Service) ConsumeLoyaltyPoints(ctx context.Context, actor auth.Actor, reservationID int64, points int) error {
	if points <= 0 {
		return &ValidationError{Reason: "points must be positive"}
	}
	r, _, err := s.loadAuthorized(ctx, actor, reservationID)
	if err != nil {
		return err
	}
	if r.UserID == "" {
		return &BusinessRuleError{Reason: "guest reservations carry no points account"}
	}
	// The prior figure rides along so a conflicted top-up corrects the
	// reservation to prior plus taken instead of overwriting it.
	err = s.Points.Consume(ctx, r.UserID, points, r.ID, r.PointsUsed, s.Store, s.Calendar.Now())
	switch cerr := err.(type) {
	case nil:
		return s.Store.UpdatePointsUsed(ctx, r.ID, r.PointsUsed+points)
	case *loyalty.InsufficientPointsError:
		return &BusinessRuleError{Reason: cerr.Error()}
	case *loyalty.ConsumeConflictError:
		return &PartialFailureError{Reason: cerr.Error()}
	default:
		return err
	}
}

// SettleRefund records that a pending refund was reconciled out of band.
// Admin only; settles at most once.
func (s *Service) SettleRefund(ctx context.Context, actor auth.Actor, reservationID int64, refundID string) error {
	if err := s.Guard.RequireAdmin(ctx, actor.UserID); err != nil {
		return &UnauthorizedError{Reason: "refund settlement requires an administrator"}
	}
	if refundID == "" {
		return &ValidationError{Reason: "refund reference is required"}
	}
	ok, err := s.Store.SettleRefund(ctx, reservationID, refundID)
	if err != nil {
		return err
	}
	if !ok {
		return &ConflictError{Reason: "no pending refund on this reservation"}
	}
	s.Logger.LogReservation("REFUND_SETTLED", reservationID, "refund "+refundID)
	return nil
}

// loadAuthorized fetches a reservation and resolves the actor's role on it.
func (s *Service) loadAuthorized(ctx context.Context, actor auth.Actor, id int64) (*models.Reservation, auth.Role, error) {
	r, err := s.Store.GetReservationByID(ctx, id)
	if err != nil {
		return nil, auth.RoleNone, err
	}
	if r == nil {
		return nil, auth.RoleNone, &NotFoundError{Entity: "reservation", ID: id}
	}
	role, err := s.Guard.Authorize(ctx, actor, r)
	if err != nil {
		return nil, auth.RoleNone, &UnauthorizedError{Reason: "not allowed to manage this reservation"}
	}
	return r, role, nil
}

func (s *Service) recordTransaction(reservationID int64, kind string, amount float64, method, processorRef string) {
	if s.TxnLog == nil || amount == 0 {
		return
	}
	err := s.TxnLog.SaveTransaction(&models.PaymentTransaction{
		TransactionID: uuid.NewString(),
		ReservationID: reservationID,
		Kind:          kind,
		Amount:        amount,
		Method:        method,
		ProcessorRef:  processorRef,
		CreatedDate:   time.Now(),
	})
	if err != nil {
		s.Logger.Warn("DATABASE", fmt.Sprintf("payment log write failed for reservation %d: %v", reservationID, err))
	}
}

// refundBestEffort compensates a capture whose booking could not be
// committed. Failure leaves the charge for manual reconciliation.
func (s *Service) refundBestEffort(r *models.Reservation, paymentRef string, amount float64) {
	refundID, err := s.Payments.Refund(context.Background(), paymentRef, amount)
	if err != nil {
		s.Logger.Error("STRIPE", fmt.Sprintf("compensating refund of %.2f against %s failed: %v", amount, paymentRef, err))
		return
	}
	s.recordTransaction(r.ID, models.TxnRefund, amount, models.MethodCard, refundID)
}

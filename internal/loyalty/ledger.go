// Package loyalty keeps the points ledger. Points live in append-ordered
// grant entries; consumption flips entries to used under a write guard, so
// two checkouts spending the same balance cannot both win. An entry is
// never decremented in place without the guard, and a partially consumed
// grant is split: the remainder stays live, the consumed part becomes an
// immutable used entry linked to its reservation.
package loyalty

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/uptrace/bun"

	"studio-booking/internal/logger"
	"studio-booking/internal/models"
)

// EarnDivisor sets the earn rate: one point per ten currency units actually
// charged.
const EarnDivisor = 10

// InsufficientPointsError reports a spend larger than the live balance.
type InsufficientPointsError struct {
	Balance   int
	Requested int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: have %d, requested %d", e.Balance, e.Requested)
}

// ConsumeConflictError reports that a concurrent spender consumed one of the
// entries mid-operation. Consumed carries how many points this operation
// actually took before stopping; the caller reconciles its own records to
// that figure.
type ConsumeConflictError struct {
	Consumed  int
	Requested int
}

func (e *ConsumeConflictError) Error() string {
	return fmt.Sprintf("points consumed concurrently: took %d of %d", e.Consumed, e.Requested)
}

// ReservationPointsUpdater corrects the points figure recorded on a
// reservation after a conflicted consumption.
type ReservationPointsUpdater interface {
	UpdatePointsUsed(ctx context.Context, reservationID int64, points int) error
}

type Ledger struct {
	DB         *bun.DB
	ExpiryDays int
	Logger     *logger.Logger
}

func NewLedger(db *bun.DB, expiryDays int, l *logger.Logger) *Ledger {
	if expiryDays <= 0 {
		expiryDays = 365
	}
	return &Ledger{DB: db, ExpiryDays: expiryDays, Logger: l}
}

// eligibleEntries returns the live entries for a user, oldest grant first.
// Oldest-first consumption keeps points from expiring while newer ones are
// spent.
func (l *Ledger) eligibleEntries(ctx context.Context, userID string, now time.Time) ([]models.LoyaltyPointsEntry, error) {
	var entries []models.LoyaltyPointsEntry
	err := l.DB.NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Where("used = ?", false).
		Where("revoked = ?", false).
		Where("expires_at > ?", now).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Balance sums the live entries for a user.
func (l *Ledger) Balance(ctx context.Context, userID string, now time.Time) (int, error) {
	entries, err := l.eligibleEntries(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		total += e.Points
	}
	return total, nil
}

// GrantForCharge awards points for an amount actually paid: one point per
// ten currency units, rounded down. Nothing is granted for guest bookings
// or when the charged amount rounds to zero.
func (l *Ledger) GrantForCharge(ctx context.Context, userID string, charged float64, reservationID int64, now time.Time) (int, error) {
	if userID == "" || charged <= 0 {
		return 0, nil
	}
	points := int(math.Floor(charged / EarnDivisor))
	if points == 0 {
		return 0, nil
	}

	entry := &models.LoyaltyPointsEntry{
		UserID:        userID,
		Points:        points,
		ExpiresAt:     now.AddDate(0, 0, l.ExpiryDays),
		ReservationID: reservationID,
		CreatedAt:     now,
	}
	if _, err := l.DB.NewInsert().Model(entry).Exec(ctx); err != nil {
		return 0, err
	}
	if l.Logger != nil {
		l.Logger.Info("LOYALTY", fmt.Sprintf("granted %d points to %s for reservation %d", points, userID, reservationID))
	}
	return points, nil
}

// markUsed flips a whole entry to used, guarded on it still being live.
func (l *Ledger) markUsed(ctx context.Context, entryID, reservationID int64) (bool, error) {
	res, err := l.DB.NewUpdate().
		Model((*models.LoyaltyPointsEntry)(nil)).
		Set("used = ?", true).
		Set("reservation_id = ?", reservationID).
		Where("id = ?", entryID).
		Where("used = ?", false).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// splitEntry takes part of an entry: the live row shrinks by take points and
// a used row for the taken part is inserted, inheriting the original expiry.
// The shrink is guarded on the row still holding the points the caller read.
func (l *Ledger) splitEntry(ctx context.Context, entry *models.LoyaltyPointsEntry, take int, reservationID int64, now time.Time) (bool, error) {
	res, err := l.DB.NewUpdate().
		Model((*models.LoyaltyPointsEntry)(nil)).
		Set("points = points - ?", take).
		Where("id = ?", entry.ID).
		Where("points = ?", entry.Points).
		Where("used = ?", false).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}

	consumed := &models.LoyaltyPointsEntry{
		UserID:        entry.UserID,
		Points:        take,
		ExpiresAt:     entry.ExpiresAt,
		Used:          true,
		ReservationID: reservationID,
		CreatedAt:     now,
	}
	if _, err := l.DB.NewInsert().Model(consumed).Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Consume spends points against a reservation, oldest entries first.
// priorPoints is the figure the reservation already carries from earlier
// spends; a checkout passes zero, a top-up passes the recorded points_used.
// When a guard fails mid-way (a concurrent spend got an entry first)
// consumption stops, the reservation's figure is corrected to priorPoints
// plus what was actually taken, and a ConsumeConflictError reports both
// numbers. Points already consumed stay consumed; nothing is double-spent
// either way.
func (l *Ledger) Consume(ctx context.Context, userID string, requested int, reservationID int64, priorPoints int, updater ReservationPointsUpdater, now time.Time) error {
	if requested <= 0 {
		return nil
	}

	entries, err := l.eligibleEntries(ctx, userID, now)
	if err != nil {
		return err
	}
	balance := 0
	for _, e := range entries {
		balance += e.Points
	}
	if balance < requested {
		return &InsufficientPointsError{Balance: balance, Requested: requested}
	}

	return l.consumeEntries(ctx, userID, entries, requested, reservationID, priorPoints, updater, now)
}

// consumeEntries runs the guarded spend loop over an already-read view of
// the ledger.
func (l *Ledger) consumeEntries(ctx context.Context, userID string, entries []models.LoyaltyPointsEntry, requested int, reservationID int64, priorPoints int, updater ReservationPointsUpdater, now time.Time) error {
	remaining := requested
	consumed := 0
	for i := range entries {
		if remaining == 0 {
			break
		}
		entry := &entries[i]

		var ok bool
		var err error
		take := entry.Points
		if entry.Points <= remaining {
			ok, err = l.markUsed(ctx, entry.ID, reservationID)
		} else {
			take = remaining
			ok, err = l.splitEntry(ctx, entry, take, reservationID, now)
		}
		if err != nil {
			return err
		}
		if !ok {
			// Concurrent spend took this entry. Stop here and reconcile
			// the reservation to its prior figure plus the points actually
			// taken, so a top-up never erases what checkout recorded.
			if l.Logger != nil {
				l.Logger.Warn("LOYALTY", fmt.Sprintf("consume conflict for %s: took %d of %d", userID, consumed, requested))
			}
			if updater != nil {
				if uerr := updater.UpdatePointsUsed(ctx, reservationID, priorPoints+consumed); uerr != nil {
					return uerr
				}
			}
			return &ConsumeConflictError{Consumed: consumed, Requested: requested}
		}
		consumed += take
		remaining -= take
	}
	return nil
}

// RevokeGrant marks the unused grant awarded for a reservation as revoked,
// used when the reservation is cancelled. A grant that was already spent is
// left alone.
func (l *Ledger) RevokeGrant(ctx context.Context, reservationID int64) error {
	_, err := l.DB.NewUpdate().
		Model((*models.LoyaltyPointsEntry)(nil)).
		Set("revoked = ?", true).
		Where("reservation_id = ?", reservationID).
		Where("used = ?", false).
		Exec(ctx)
	return err
}
